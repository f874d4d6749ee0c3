package oi

import "fmt"

// Command opcodes.
const (
	OpReset   byte = 7
	OpStart   byte = 128
	OpSafe    byte = 131
	OpFull    byte = 132
	OpDrive   byte = 137
	OpLEDs    byte = 139
	OpSensors byte = 142
	OpStop    byte = 173
)

// Serial framing the firmware expects: 57600 8N1, no flow control.
const (
	BaudRate = 57600
	DataBits = 8
)

const (
	// LEDBits is the fixed LED bitmask byte sent ahead of color and intensity.
	LEDBits byte = 4

	MaxVelocity = 500  // mm/s
	MaxRadius   = 2000 // mm

	// Literal radius values with special meaning. They are matched before
	// clamping, so 2001 and 2002 never collapse into MaxRadius.
	RadiusStraight = 0
	RadiusSpinCW   = 2001
	RadiusSpinCCW  = 2002
)

// Wire values for the literal radii.
const (
	wireStraight int16 = -32768 // 0x8000, "32768" in the OI manual
	wireSpinCW   int16 = -1
	wireSpinCCW  int16 = 1
)

var opNames = map[byte]string{
	OpReset:   "reset",
	OpStart:   "start",
	OpSafe:    "safe",
	OpFull:    "full",
	OpDrive:   "drive",
	OpLEDs:    "leds",
	OpSensors: "sensors",
	OpStop:    "stop",
}

// OpName returns a short lowercase name for an opcode, used in logs and
// metric labels. Unknown opcodes render as their decimal value.
func OpName(op byte) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("op%d", op)
}
