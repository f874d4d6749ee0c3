// Package robot is the host-side controller for one robot. It tracks the
// Open Interface mode and turns each high-level command into a single frame
// handed to the underlying link.
package robot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/roomba-oi/internal/monitor"
	"github.com/shaunagostinho/roomba-oi/internal/oi"
)

// ErrModeOff is returned by sensor reads while the OI is off. Firmware in
// that mode never answers, so the query is not sent.
var ErrModeOff = errors.New("robot: oi mode is off")

// Link is the byte transport the controller drives. *transport.Transport
// implements it.
type Link interface {
	DiscoverAndConnect() error
	Send(frame []byte) error
	ReceiveByte() (byte, error)
	ReceiveFull(n int) ([]byte, error)
	IsOpen() bool
	PortName() string
	Close() error
}

// Controller serializes all commands: at most one frame is in flight and a
// sensor query is always paired with its own response.
type Controller struct {
	mu      sync.Mutex
	link    Link
	mode    oi.Mode
	log     *logrus.Entry
	metrics *monitor.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithMetrics records every exchange on m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New returns a controller in ModeOff. It does not touch the link.
func New(link Link, opts ...Option) *Controller {
	c := &Controller{
		link: link,
		mode: oi.ModeOff,
		log:  logrus.WithField("component", "robot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetMode(c.mode)
	return c
}

// Mode returns the host's view of the OI mode.
func (c *Controller) Mode() oi.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Connected reports whether the link holds an open port.
func (c *Controller) Connected() bool {
	return c.link.IsOpen()
}

// PortName returns the port the robot was found on, or "".
func (c *Controller) PortName() string {
	return c.link.PortName()
}

// Connect scans for the robot and enters passive mode on success.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.link.DiscoverAndConnect()
	c.metrics.ObserveConnect(err)
	c.transition(oi.EventConnect, err)
	if err != nil {
		return fmt.Errorf("robot: connect: %w", err)
	}
	c.log.WithField("port", c.link.PortName()).Info("connected")
	return nil
}

// Disconnect sends stop and releases the port. Calling it on a controller
// that holds no port returns nil.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.link.IsOpen() {
		c.transition(oi.EventStop, nil)
		return nil
	}
	sendErr := c.send(oi.EventStop, []byte{oi.OpStop})
	closeErr := c.link.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("robot: close: %w", closeErr)
	}
	c.log.Info("disconnected")
	return errors.Join(sendErr, closeErr)
}

// Reset sends the reset opcode. The mode is off afterwards either way.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(oi.EventReset, []byte{oi.OpReset})
}

// SafeMode switches to safe mode. The firmware's current mode is not checked.
func (c *Controller) SafeMode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(oi.EventSafe, []byte{oi.OpSafe})
}

// FullMode switches to full mode.
func (c *Controller) FullMode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(oi.EventFull, []byte{oi.OpFull})
}

// Drive sets the wheel velocity in mm/s and turn radius in mm. Values out of
// range are clamped; see oi.DriveFrame for the literal radius values.
func (c *Controller) Drive(velocity, radius int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(oi.EventSend, oi.DriveFrame(velocity, radius))
}

// Stop drives at zero velocity.
func (c *Controller) Stop() error {
	return c.Drive(0, oi.RadiusStraight)
}

// SetLED sets the power LED color and intensity, each clamped to 0-255.
func (c *Controller) SetLED(color, intensity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(oi.EventSend, oi.LEDFrame(color, intensity))
}

// Sensor queries one packet and returns the first response byte. The whole
// response is read so no byte of a wide packet is left on the line. The read
// blocks until the response arrives unless the link has a read timeout.
func (c *Controller) Sensor(id oi.PacketID) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.query(id)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// SensorValue queries one packet, reads its full width and decodes it.
func (c *Controller) SensorValue(id oi.PacketID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.query(id)
	if err != nil {
		return 0, err
	}
	return oi.DecodeValue(id, raw)
}

// query sends [142, id] and reads id.Size() bytes. Callers hold c.mu.
func (c *Controller) query(id oi.PacketID) ([]byte, error) {
	if c.mode == oi.ModeOff {
		return nil, fmt.Errorf("robot: sensor %s: %w", id, ErrModeOff)
	}
	if err := c.send(oi.EventSend, oi.SensorFrame(id)); err != nil {
		c.metrics.ObserveSensor(id, err)
		return nil, err
	}
	raw, err := c.link.ReceiveFull(id.Size())
	c.metrics.ObserveSensor(id, err)
	if err != nil {
		return nil, fmt.Errorf("robot: sensor %s: %w", id, err)
	}
	return raw, nil
}

// send transmits one frame and applies the resulting mode transition.
// Callers hold c.mu.
func (c *Controller) send(ev oi.Event, frame []byte) error {
	err := c.link.Send(frame)
	c.metrics.ObserveSend(frame[0], err)
	c.transition(ev, err)
	if err != nil {
		c.log.WithError(err).WithField("op", oi.OpName(frame[0])).Warn("send failed")
		return fmt.Errorf("robot: %s: %w", oi.OpName(frame[0]), err)
	}
	return nil
}

func (c *Controller) transition(ev oi.Event, err error) {
	prev := c.mode
	c.mode = oi.Next(prev, ev, err == nil)
	if c.mode != prev {
		c.log.WithFields(logrus.Fields{
			"from":  prev.String(),
			"to":    c.mode.String(),
			"event": ev.String(),
		}).Debug("mode changed")
	}
	c.metrics.SetMode(c.mode)
}
