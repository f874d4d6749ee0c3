package oi

import (
	"encoding/binary"
	"fmt"
)

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeRadius maps a caller's radius to the value sent on the wire. The
// literal values RadiusStraight, RadiusSpinCW and RadiusSpinCCW are replaced
// first; anything else is clamped to ±MaxRadius.
func EncodeRadius(radius int) int16 {
	switch radius {
	case RadiusStraight:
		return wireStraight
	case RadiusSpinCW:
		return wireSpinCW
	case RadiusSpinCCW:
		return wireSpinCCW
	}
	return int16(Clamp(radius, -MaxRadius, MaxRadius))
}

// EncodeVelocity clamps velocity to ±MaxVelocity.
func EncodeVelocity(velocity int) int16 {
	return int16(Clamp(velocity, -MaxVelocity, MaxVelocity))
}

// DriveFrame builds [137, vHi, vLo, rHi, rLo].
func DriveFrame(velocity, radius int) []byte {
	frame := make([]byte, 5)
	frame[0] = OpDrive
	binary.BigEndian.PutUint16(frame[1:3], uint16(EncodeVelocity(velocity)))
	binary.BigEndian.PutUint16(frame[3:5], uint16(EncodeRadius(radius)))
	return frame
}

// LEDFrame builds [139, 4, color, intensity] with both values clamped to a byte.
func LEDFrame(color, intensity int) []byte {
	return []byte{
		OpLEDs,
		LEDBits,
		byte(Clamp(color, 0, 255)),
		byte(Clamp(intensity, 0, 255)),
	}
}

// SensorFrame builds [142, id].
func SensorFrame(id PacketID) []byte {
	return []byte{OpSensors, byte(id)}
}

// DecodeValue interprets a raw sensor response for id. The length of raw
// must match id.Size().
func DecodeValue(id PacketID, raw []byte) (int, error) {
	if len(raw) != id.Size() {
		return 0, fmt.Errorf("oi: packet %s: got %d bytes, want %d", id, len(raw), id.Size())
	}
	if len(raw) == 1 {
		return int(raw[0]), nil
	}
	v := binary.BigEndian.Uint16(raw)
	if id.Signed() {
		return int(int16(v)), nil
	}
	return int(v), nil
}
