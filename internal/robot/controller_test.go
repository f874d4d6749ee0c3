package robot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/roomba-oi/internal/monitor"
	"github.com/shaunagostinho/roomba-oi/internal/oi"
	"github.com/shaunagostinho/roomba-oi/internal/transport"
)

var errCable = errors.New("cable unplugged")

// MockLink records frames and plays back scripted responses.
type MockLink struct {
	open       bool
	connectErr error
	// failSend decides whether the n-th send (1-based) fails.
	failSend func(n int) bool
	sends    int
	frames   [][]byte
	rx       []byte
	readErr  error
	closes   int
}

func (m *MockLink) DiscoverAndConnect() error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.open = true
	return nil
}

func (m *MockLink) Send(frame []byte) error {
	m.sends++
	if !m.open {
		return transport.ErrNoConnection
	}
	if m.failSend != nil && m.failSend(m.sends) {
		return &transport.SendError{Port: "mock", Frame: frame, Err: errCable}
	}
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *MockLink) ReceiveByte() (byte, error) {
	b, err := m.ReceiveFull(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *MockLink) ReceiveFull(n int) ([]byte, error) {
	if !m.open {
		return nil, transport.ErrNoConnection
	}
	if m.readErr != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrReadFailed, m.readErr)
	}
	if len(m.rx) < n {
		return nil, fmt.Errorf("%w: %w", transport.ErrReadFailed, io.EOF)
	}
	out := m.rx[:n]
	m.rx = m.rx[n:]
	return out, nil
}

func (m *MockLink) IsOpen() bool { return m.open }

func (m *MockLink) PortName() string {
	if m.open {
		return "mock"
	}
	return ""
}

func (m *MockLink) Close() error {
	m.closes++
	m.open = false
	return nil
}

func (m *MockLink) lastFrame() []byte {
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newConnected(t *testing.T) (*Controller, *MockLink) {
	t.Helper()
	link := &MockLink{}
	c := New(link, WithLogger(quietLogger()))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, link
}

func TestConnect(t *testing.T) {
	c, _ := newConnected(t)
	if c.Mode() != oi.ModePassive {
		t.Errorf("mode = %s, want passive", c.Mode())
	}
	if !c.Connected() || c.PortName() != "mock" {
		t.Errorf("Connected = %v, PortName = %q", c.Connected(), c.PortName())
	}
}

func TestConnectFailure(t *testing.T) {
	link := &MockLink{connectErr: fmt.Errorf("%w: nothing answered", transport.ErrNoRobot)}
	c := New(link, WithLogger(quietLogger()))

	err := c.Connect()
	if !errors.Is(err, transport.ErrNoRobot) {
		t.Fatalf("Connect = %v, want ErrNoRobot", err)
	}
	if c.Mode() != oi.ModeOff {
		t.Errorf("mode = %s, want off", c.Mode())
	}
}

func TestModeSwitches(t *testing.T) {
	c, link := newConnected(t)

	if err := c.FullMode(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != oi.ModeFull {
		t.Errorf("mode = %s, want full", c.Mode())
	}
	if err := c.SafeMode(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != oi.ModeSafe {
		t.Errorf("mode = %s, want safe", c.Mode())
	}
	want := [][]byte{{132}, {131}}
	for i := range want {
		if !bytes.Equal(link.frames[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, link.frames[i], want[i])
		}
	}
}

func TestSendFailureDemotesToOff(t *testing.T) {
	commands := []struct {
		name string
		run  func(c *Controller) error
	}{
		{"safe", (*Controller).SafeMode},
		{"full", (*Controller).FullMode},
		{"reset", (*Controller).Reset},
		{"drive", func(c *Controller) error { return c.Drive(100, 0) }},
		{"led", func(c *Controller) error { return c.SetLED(1, 2) }},
		{"sensor", func(c *Controller) error { _, err := c.Sensor(oi.PacketWall); return err }},
		{"sensor value", func(c *Controller) error { _, err := c.SensorValue(oi.PacketAngle); return err }},
	}
	setups := []struct {
		name  string
		setup func(c *Controller) error
		mode  oi.Mode
	}{
		{"passive", func(*Controller) error { return nil }, oi.ModePassive},
		{"safe", (*Controller).SafeMode, oi.ModeSafe},
		{"full", (*Controller).FullMode, oi.ModeFull},
	}

	for _, s := range setups {
		for _, cmd := range commands {
			t.Run(s.name+"/"+cmd.name, func(t *testing.T) {
				c, link := newConnected(t)
				if err := s.setup(c); err != nil {
					t.Fatal(err)
				}
				if c.Mode() != s.mode {
					t.Fatalf("setup mode = %s, want %s", c.Mode(), s.mode)
				}

				link.failSend = func(int) bool { return true }
				err := cmd.run(c)
				if !errors.Is(err, transport.ErrSendFailed) {
					t.Fatalf("err = %v, want ErrSendFailed", err)
				}
				if c.Mode() != oi.ModeOff {
					t.Errorf("mode = %s, want off", c.Mode())
				}
			})
		}
	}
}

func TestFailedModeSwitchNeverReportsTarget(t *testing.T) {
	c, link := newConnected(t)
	if err := c.SafeMode(); err != nil {
		t.Fatal(err)
	}
	link.failSend = func(int) bool { return true }
	c.FullMode()
	if c.Mode() == oi.ModeFull || c.Mode() == oi.ModeSafe {
		t.Errorf("mode = %s after failed full switch", c.Mode())
	}
}

func TestCommandsWithoutConnection(t *testing.T) {
	link := &MockLink{}
	c := New(link, WithLogger(quietLogger()))

	if err := c.Drive(100, 100); !errors.Is(err, transport.ErrNoConnection) {
		t.Errorf("Drive = %v, want ErrNoConnection", err)
	}
	if err := c.SafeMode(); !errors.Is(err, transport.ErrNoConnection) {
		t.Errorf("SafeMode = %v, want ErrNoConnection", err)
	}
	if c.Mode() != oi.ModeOff {
		t.Errorf("mode = %s, want off", c.Mode())
	}
}

func TestDrive(t *testing.T) {
	tests := []struct {
		name             string
		velocity, radius int
		want             []byte
	}{
		{"clamped", 900, -3000, []byte{137, 0x01, 0xF4, 0xF8, 0x30}},
		{"straight", 100, 0, []byte{137, 0x00, 0x64, 0x80, 0x00}},
		{"spin cw", 100, 2001, []byte{137, 0x00, 0x64, 0xFF, 0xFF}},
		{"spin ccw", 100, 2002, []byte{137, 0x00, 0x64, 0x00, 0x01}},
		{"reverse", -250, 750, []byte{137, 0xFF, 0x06, 0x02, 0xEE}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, link := newConnected(t)
			if err := c.Drive(tt.velocity, tt.radius); err != nil {
				t.Fatal(err)
			}
			if got := link.lastFrame(); !bytes.Equal(got, tt.want) {
				t.Errorf("Drive(%d, %d) sent % X, want % X", tt.velocity, tt.radius, got, tt.want)
			}
			if c.Mode() != oi.ModePassive {
				t.Errorf("mode = %s, want passive", c.Mode())
			}
		})
	}

	c, link := newConnected(t)
	c.Drive(900, -3000)
	clamped := link.lastFrame()
	c.Drive(500, -2000)
	if !bytes.Equal(clamped, link.lastFrame()) {
		t.Errorf("Drive(900, -3000) = % X, Drive(500, -2000) = % X", clamped, link.lastFrame())
	}
}

func TestStop(t *testing.T) {
	c, link := newConnected(t)
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := link.lastFrame(); !bytes.Equal(got, []byte{137, 0, 0, 0x80, 0}) {
		t.Errorf("Stop sent % X", got)
	}
}

func TestSetLED(t *testing.T) {
	c, link := newConnected(t)
	if err := c.SetLED(300, -10); err != nil {
		t.Fatal(err)
	}
	if got := link.lastFrame(); !bytes.Equal(got, []byte{139, 4, 255, 0}) {
		t.Errorf("SetLED(300, -10) sent %v, want [139 4 255 0]", got)
	}
}

func TestSensor(t *testing.T) {
	c, link := newConnected(t)
	link.rx = []byte{0x03}

	b, err := c.Sensor(oi.PacketBumpsAndWheelDrops)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0x03 {
		t.Errorf("Sensor = %d, want 3", b)
	}
	if got := link.lastFrame(); !bytes.Equal(got, []byte{142, 7}) {
		t.Errorf("query = %v, want [142 7]", got)
	}
}

func TestSensorReadFailure(t *testing.T) {
	c, link := newConnected(t)
	c.SafeMode()
	link.readErr = errors.New("device vanished")

	b, err := c.Sensor(oi.PacketOIMode)
	if !errors.Is(err, transport.ErrReadFailed) {
		t.Fatalf("Sensor = %d, %v, want ErrReadFailed", b, err)
	}
	if c.Mode() != oi.ModeSafe {
		t.Errorf("mode = %s, a read failure should not change the mode", c.Mode())
	}
}

func TestSensorReadsWholePacket(t *testing.T) {
	c, link := newConnected(t)
	link.rx = []byte{0x0A, 0x8C, 0x01}

	hi, err := c.Sensor(oi.PacketBatteryCharge)
	if err != nil {
		t.Fatal(err)
	}
	if hi != 0x0A {
		t.Errorf("battery_charge first byte = %#x, want 0x0a", hi)
	}
	mode, err := c.Sensor(oi.PacketOIMode)
	if err != nil {
		t.Fatal(err)
	}
	if mode != 0x01 {
		t.Errorf("oi_mode = %d, want 1 (left over byte from the previous packet?)", mode)
	}
	if len(link.rx) != 0 {
		t.Errorf("%d bytes left unread", len(link.rx))
	}
}

func TestSensorRefusedWhileOff(t *testing.T) {
	c, link := newConnected(t)
	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	sends := link.sends

	if _, err := c.Sensor(oi.PacketWall); !errors.Is(err, ErrModeOff) {
		t.Errorf("Sensor = %v, want ErrModeOff", err)
	}
	if _, err := c.SensorValue(oi.PacketDistance); !errors.Is(err, ErrModeOff) {
		t.Errorf("SensorValue = %v, want ErrModeOff", err)
	}
	if link.sends != sends {
		t.Errorf("sent %d queries while off", link.sends-sends)
	}
	if !link.open {
		t.Error("refused query closed the link")
	}
}

func TestSensorValue(t *testing.T) {
	c, link := newConnected(t)
	link.rx = []byte{0xFF, 0x38, 0x0A, 0x8C}

	dist, err := c.SensorValue(oi.PacketDistance)
	if err != nil || dist != -200 {
		t.Fatalf("distance = %d, %v, want -200", dist, err)
	}
	charge, err := c.SensorValue(oi.PacketBatteryCharge)
	if err != nil || charge != 2700 {
		t.Fatalf("battery_charge = %d, %v, want 2700", charge, err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c, link := newConnected(t)
	c.FullMode()

	for i := 0; i < 2; i++ {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect #%d: %v", i+1, err)
		}
		if c.Mode() != oi.ModeOff {
			t.Errorf("Disconnect #%d: mode = %s, want off", i+1, c.Mode())
		}
	}
	if link.closes != 1 {
		t.Errorf("link closed %d times, want 1", link.closes)
	}
	stops := 0
	for _, f := range link.frames {
		if bytes.Equal(f, []byte{173}) {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("stop sent %d times, want 1", stops)
	}
}

func TestDisconnectSendFailureStillCloses(t *testing.T) {
	c, link := newConnected(t)
	link.failSend = func(int) bool { return true }

	if err := c.Disconnect(); !errors.Is(err, transport.ErrSendFailed) {
		t.Fatalf("Disconnect = %v, want ErrSendFailed", err)
	}
	if link.open {
		t.Error("link left open")
	}
	if c.Mode() != oi.ModeOff {
		t.Errorf("mode = %s, want off", c.Mode())
	}
}

func TestReset(t *testing.T) {
	c, link := newConnected(t)
	c.SafeMode()
	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != oi.ModeOff {
		t.Errorf("mode = %s, want off", c.Mode())
	}
	if got := link.lastFrame(); !bytes.Equal(got, []byte{7}) {
		t.Errorf("Reset sent %v", got)
	}
	if !link.open {
		t.Error("Reset should not close the link")
	}
}

func TestEveryThirdSendFails(t *testing.T) {
	c, link := newConnected(t)
	c.SafeMode()
	link.sends = 0
	link.failSend = func(n int) bool { return n%3 == 0 }

	var errs []error
	for i := 0; i < 3; i++ {
		errs = append(errs, c.Drive(200, 500))
	}
	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("first two drives failed: %v", errs[:2])
	}
	if !errors.Is(errs[2], transport.ErrSendFailed) {
		t.Fatalf("third drive = %v, want ErrSendFailed", errs[2])
	}
	if c.Mode() != oi.ModeOff {
		t.Errorf("mode = %s, want off", c.Mode())
	}
	if link.sends != 3 {
		t.Errorf("link saw %d sends, want 3 (no retries)", link.sends)
	}
}

func TestControllerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitor.NewMetrics(reg)
	link := &MockLink{}
	c := New(link, WithLogger(quietLogger()), WithMetrics(m))

	c.Connect()
	c.FullMode()
	if got := testutil.ToFloat64(m.Mode); got != float64(oi.ModeFull) {
		t.Errorf("mode gauge = %v, want %v", got, float64(oi.ModeFull))
	}
	link.failSend = func(int) bool { return true }
	c.Drive(1, 1)
	if got := testutil.ToFloat64(m.SendFailures.WithLabelValues("drive")); got != 1 {
		t.Errorf("drive failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Mode); got != 0 {
		t.Errorf("mode gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Connects.WithLabelValues("ok")); got != 1 {
		t.Errorf("connects ok = %v, want 1", got)
	}
}
