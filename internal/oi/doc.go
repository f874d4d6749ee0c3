// Package oi describes the robot's serial Open Interface: opcodes, sensor
// packets, the host-side mode state machine and the byte encoding of every
// command frame.
//
// Everything in this package is pure. Nothing here touches a serial port, so
// frames can be built and checked without hardware:
//
//	frame := oi.DriveFrame(200, oi.RadiusStraight)
//	// frame == []byte{137, 0x00, 0xC8, 0x80, 0x00}
//
// Multi-byte values travel as two's-complement 16-bit integers, high byte
// first.
package oi
