package oi

import (
	"bytes"
	"testing"
)

func TestDriveFrame(t *testing.T) {
	tests := []struct {
		name     string
		velocity int
		radius   int
		want     []byte
	}{
		{
			name:     "forward with radius",
			velocity: 200,
			radius:   500,
			want:     []byte{OpDrive, 0x00, 0xC8, 0x01, 0xF4},
		},
		{
			name:     "reverse negative radius",
			velocity: -200,
			radius:   -500,
			want:     []byte{OpDrive, 0xFF, 0x38, 0xFE, 0x0C},
		},
		{
			name:     "straight",
			velocity: 100,
			radius:   RadiusStraight,
			want:     []byte{OpDrive, 0x00, 0x64, 0x80, 0x00},
		},
		{
			name:     "spin clockwise",
			velocity: 100,
			radius:   RadiusSpinCW,
			want:     []byte{OpDrive, 0x00, 0x64, 0xFF, 0xFF},
		},
		{
			name:     "spin counter-clockwise",
			velocity: 100,
			radius:   RadiusSpinCCW,
			want:     []byte{OpDrive, 0x00, 0x64, 0x00, 0x01},
		},
		{
			name:     "overrides ignore velocity",
			velocity: -500,
			radius:   RadiusSpinCW,
			want:     []byte{OpDrive, 0xFE, 0x0C, 0xFF, 0xFF},
		},
		{
			name:     "clamped high",
			velocity: 900,
			radius:   3000,
			want:     []byte{OpDrive, 0x01, 0xF4, 0x07, 0xD0},
		},
		{
			name:     "clamped low",
			velocity: -900,
			radius:   -3000,
			want:     []byte{OpDrive, 0xFE, 0x0C, 0xF8, 0x30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DriveFrame(tt.velocity, tt.radius)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DriveFrame(%d, %d) = % X, want % X", tt.velocity, tt.radius, got, tt.want)
			}
		})
	}
}

func TestDriveFrameClampsBeforeEncoding(t *testing.T) {
	got := DriveFrame(900, -3000)
	want := DriveFrame(500, -2000)
	if !bytes.Equal(got, want) {
		t.Errorf("DriveFrame(900, -3000) = % X, want % X", got, want)
	}
}

func TestDriveFrameHighByteFirst(t *testing.T) {
	for v := -MaxVelocity; v <= MaxVelocity; v += 37 {
		for r := -MaxRadius; r <= MaxRadius; r += 113 {
			if r == RadiusStraight {
				continue
			}
			frame := DriveFrame(v, r)
			uv, ur := uint16(int16(v)), uint16(int16(r))
			want := []byte{OpDrive, byte(uv >> 8), byte(uv), byte(ur >> 8), byte(ur)}
			if !bytes.Equal(frame, want) {
				t.Fatalf("DriveFrame(%d, %d) = % X, want % X", v, r, frame, want)
			}
		}
	}
}

func TestLEDFrame(t *testing.T) {
	tests := []struct {
		color, intensity int
		want             []byte
	}{
		{128, 255, []byte{OpLEDs, LEDBits, 128, 255}},
		{300, -10, []byte{OpLEDs, LEDBits, 255, 0}},
		{-1, 256, []byte{OpLEDs, LEDBits, 0, 255}},
		{0, 0, []byte{OpLEDs, LEDBits, 0, 0}},
	}
	for _, tt := range tests {
		got := LEDFrame(tt.color, tt.intensity)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("LEDFrame(%d, %d) = %v, want %v", tt.color, tt.intensity, got, tt.want)
		}
	}
}

func TestSensorFrame(t *testing.T) {
	got := SensorFrame(PacketBatteryCharge)
	if !bytes.Equal(got, []byte{142, 25}) {
		t.Errorf("SensorFrame = %v, want [142 25]", got)
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		id      PacketID
		raw     []byte
		want    int
		wantErr bool
	}{
		{name: "single byte", id: PacketWall, raw: []byte{1}, want: 1},
		{name: "signed negative", id: PacketDistance, raw: []byte{0xFF, 0x9C}, want: -100},
		{name: "signed positive", id: PacketAngle, raw: []byte{0x00, 0x5A}, want: 90},
		{name: "unsigned", id: PacketBatteryCharge, raw: []byte{0xFF, 0x9C}, want: 65436},
		{name: "short", id: PacketDistance, raw: []byte{0x01}, wantErr: true},
		{name: "long", id: PacketWall, raw: []byte{0x01, 0x02}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.id, tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeValue = %d, want %d", got, tt.want)
			}
		})
	}
}
