// Package sim is a software stand-in for the robot at the far end of the
// serial cable. It speaks the same Open Interface subset as the driver and is
// used by the -demo flag and by tests.
package sim

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/roomba-oi/internal/oi"
)

// Values the firmware reports for packet 35.
const (
	firmwareOff     byte = 0
	firmwarePassive byte = 1
	firmwareSafe    byte = 2
	firmwareFull    byte = 3
)

const (
	wheelBaseMM       = 235.0
	batteryCapacity   = 2696.0 // mAh
	idleDrainPerSec   = 0.05
	motionDrainPerSec = 0.4
)

// argLen is the number of argument bytes after each opcode.
var argLen = map[byte]int{
	oi.OpStart:   0,
	oi.OpReset:   0,
	oi.OpStop:    0,
	oi.OpSafe:    0,
	oi.OpFull:    0,
	oi.OpDrive:   4,
	oi.OpLEDs:    3,
	oi.OpSensors: 1,
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sim: port closed")

// Robot simulates the firmware side of the link. It implements
// io.ReadWriteCloser plus SetReadTimeout, matching serial.Port.
type Robot struct {
	// Now is the clock used to integrate motion. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	notify  chan struct{}
	closed  bool
	timeout time.Duration
	failErr error

	pending []byte
	out     []byte
	frames  [][]byte

	mode     byte
	velocity int16
	radius   int16
	lastTick time.Time
	distance float64 // mm since last distance read
	angle    float64 // degrees since last angle read
	battery  float64 // mAh
	ledColor byte
	ledPower byte
	ignored  int
}

// NewRobot returns a robot that is powered on with OI off and a full battery.
func NewRobot() *Robot {
	return &Robot{
		Now:     time.Now,
		notify:  make(chan struct{}, 1),
		battery: batteryCapacity,
	}
}

// Write feeds bytes to the firmware's command parser. Commands may be split
// across writes.
func (r *Robot) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if r.failErr != nil {
		return 0, r.failErr
	}
	r.pending = append(r.pending, b...)
	r.parse()
	return len(b), nil
}

// Read returns queued sensor bytes. It blocks until data is available, the
// read timeout elapses (returning 0, nil) or the robot is closed.
func (r *Robot) Read(b []byte) (int, error) {
	for {
		r.mu.Lock()
		if len(r.out) > 0 {
			n := copy(b, r.out)
			r.out = r.out[n:]
			r.mu.Unlock()
			return n, nil
		}
		if r.closed {
			r.mu.Unlock()
			return 0, io.EOF
		}
		timeout := r.timeout
		r.mu.Unlock()

		if timeout <= 0 {
			<-r.notify
			continue
		}
		select {
		case <-r.notify:
		case <-time.After(timeout):
			return 0, nil
		}
	}
}

// Close unblocks pending reads. The robot can be reopened with Reopen.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.wake()
	return nil
}

// Reopen clears the closed flag, as if the host opened the port again. The
// firmware state survives.
func (r *Robot) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
	r.pending = nil
	r.out = nil
}

// SetReadTimeout mirrors serial.Port.SetReadTimeout.
func (r *Robot) SetReadTimeout(d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
	return nil
}

// FailWrites makes every following Write return err. Pass nil to recover.
func (r *Robot) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

// Frames returns every complete command received so far.
func (r *Robot) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	for i, f := range r.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Mode returns the firmware's own idea of the OI mode.
func (r *Robot) Mode() oi.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return oi.Mode(r.mode)
}

// LED returns the last power LED color and intensity.
func (r *Robot) LED() (color, intensity byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledColor, r.ledPower
}

// Velocity returns the current wheel velocity and radius as sent.
func (r *Robot) Velocity() (velocity, radius int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.velocity, r.radius
}

func (r *Robot) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// parse consumes complete commands from pending. Unknown opcodes are dropped
// one byte at a time, as the firmware does.
func (r *Robot) parse() {
	for len(r.pending) > 0 {
		op := r.pending[0]
		n, ok := argLen[op]
		if !ok {
			r.pending = r.pending[1:]
			r.ignored++
			continue
		}
		if len(r.pending) < 1+n {
			return
		}
		frame := append([]byte(nil), r.pending[:1+n]...)
		r.pending = r.pending[1+n:]
		r.frames = append(r.frames, frame)
		r.execute(frame)
	}
}

func (r *Robot) execute(frame []byte) {
	r.tick()

	switch frame[0] {
	case oi.OpStart:
		if r.mode == firmwareOff {
			r.mode = firmwarePassive
		}
	case oi.OpSafe:
		if r.mode != firmwareOff {
			r.mode = firmwareSafe
		}
	case oi.OpFull:
		if r.mode != firmwareOff {
			r.mode = firmwareFull
		}
	case oi.OpStop, oi.OpReset:
		r.mode = firmwareOff
		r.velocity, r.radius = 0, 0
	case oi.OpDrive:
		if r.mode == firmwareSafe || r.mode == firmwareFull {
			r.velocity = int16(binary.BigEndian.Uint16(frame[1:3]))
			r.radius = int16(binary.BigEndian.Uint16(frame[3:5]))
		}
	case oi.OpLEDs:
		if r.mode == firmwareSafe || r.mode == firmwareFull {
			r.ledColor, r.ledPower = frame[2], frame[3]
		}
	case oi.OpSensors:
		if r.mode != firmwareOff {
			r.out = append(r.out, r.sensor(oi.PacketID(frame[1]))...)
			r.wake()
		}
	}
}

// tick integrates motion and battery drain since the previous command.
func (r *Robot) tick() {
	now := r.Now()
	if r.lastTick.IsZero() {
		r.lastTick = now
		return
	}
	dt := now.Sub(r.lastTick).Seconds()
	r.lastTick = now
	if dt <= 0 {
		return
	}

	drain := idleDrainPerSec
	if r.velocity != 0 {
		drain = motionDrainPerSec
		v := float64(r.velocity)
		r.distance += v * dt

		switch r.radius {
		case -32768, 32767:
			// straight
		case -1:
			r.angle -= v / (wheelBaseMM / 2) * dt * 180 / math.Pi
		case 1:
			r.angle += v / (wheelBaseMM / 2) * dt * 180 / math.Pi
		default:
			r.angle += v / float64(r.radius) * dt * 180 / math.Pi
		}
	}
	r.battery = math.Max(0, r.battery-drain*dt)
}

func (r *Robot) sensor(id oi.PacketID) []byte {
	switch id {
	case oi.PacketDistance:
		v := clampInt16(r.distance)
		r.distance = 0
		return be16(uint16(v))
	case oi.PacketAngle:
		v := clampInt16(r.angle)
		r.angle = 0
		return be16(uint16(v))
	case oi.PacketBatteryCharge:
		return be16(uint16(r.battery))
	case oi.PacketOIMode:
		return []byte{r.mode}
	}
	// Everything else reads as idle: no bumps, no cliffs, not charging.
	return make([]byte, id.Size())
}

func clampInt16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
