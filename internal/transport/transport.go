// Package transport owns the serial link to the robot. It finds the robot
// among the host's serial ports, keeps at most one connection open and moves
// raw bytes. It never interprets commands.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/shaunagostinho/roomba-oi/internal/oi"
)

// Port is the byte I/O capability of an opened serial handle. serial.Port
// satisfies it.
type Port interface {
	io.ReadWriteCloser
}

// readTimeouter is implemented by serial.Port. Ports without it always block.
type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// Config holds the capabilities and knobs of a Transport. Zero values select
// the real serial stack.
type Config struct {
	// ListPorts enumerates candidate device paths.
	ListPorts func() ([]string, error)
	// Open opens one device path.
	Open func(name string, mode *serial.Mode) (Port, error)
	// Order arranges candidates before scanning. Defaults to SortedOrder.
	Order func([]string) []string
	// ContinueScan decides whether discovery moves on after a rejected port.
	// Defaults to always continuing.
	ContinueScan func(*PortError) bool

	// PortPath, when set, is the only port discovery tries.
	PortPath string
	// ReadTimeout bounds each receive. Zero blocks until a byte arrives.
	ReadTimeout time.Duration

	Logger *logrus.Entry
}

// Transport owns at most one open connection.
type Transport struct {
	cfg Config
	log *logrus.Entry

	mu   sync.Mutex
	port Port
	name string
}

// SerialMode returns the fixed line settings: 57600 8N1, no flow control,
// DTR and RTS low.
func SerialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: oi.BaudRate,
		DataBits: oi.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: false,
			DTR: false,
		},
	}
}

// SortedOrder scans ports in lexical order so discovery is reproducible.
func SortedOrder(ports []string) []string {
	out := append([]string(nil), ports...)
	sort.Strings(out)
	return out
}

// HostOrder keeps whatever order the host reported.
func HostOrder(ports []string) []string {
	return append([]string(nil), ports...)
}

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// New creates a Transport. Nothing is opened until DiscoverAndConnect or
// TryOpen is called.
func New(cfg Config) *Transport {
	if cfg.ListPorts == nil {
		cfg.ListPorts = serial.GetPortsList
	}
	if cfg.Open == nil {
		cfg.Open = openSerial
	}
	if cfg.Order == nil {
		cfg.Order = SortedOrder
	}
	if cfg.ContinueScan == nil {
		cfg.ContinueScan = func(*PortError) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "transport")
	}
	return &Transport{cfg: cfg, log: cfg.Logger}
}

// DiscoverAndConnect tries each candidate port in scan order and adopts the
// first one that accepts the start byte.
func (t *Transport) DiscoverAndConnect() error {
	candidates, err := t.candidates()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no serial ports reported", ErrNoRobot)
	}

	var errs []error
	for _, name := range candidates {
		err := t.TryOpen(name)
		if err == nil {
			return nil
		}
		errs = append(errs, err)

		var pe *PortError
		if errors.As(err, &pe) && !t.cfg.ContinueScan(pe) {
			t.log.WithField("port", name).Info("scan aborted")
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrNoRobot, errors.Join(errs...))
}

func (t *Transport) candidates() ([]string, error) {
	if t.cfg.PortPath != "" {
		return []string{t.cfg.PortPath}, nil
	}
	ports, err := t.cfg.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("transport: listing serial ports: %w", err)
	}
	ordered := t.cfg.Order(ports)
	t.log.WithField("ports", ordered).Debug("scanning serial ports")
	return ordered, nil
}

// TryOpen closes any held connection, opens name and sends the start byte.
// On failure the port is closed again and the transport is left unconnected.
func (t *Transport) TryOpen(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.closeLocked(); err != nil {
		t.log.WithError(err).Warn("closing previous port")
	}

	l := t.log.WithField("port", name)
	port, err := t.cfg.Open(name, SerialMode())
	if err != nil {
		l.WithError(err).Debug("open failed")
		return &PortError{Port: name, Kind: PortUnavailable, Err: err}
	}

	if t.cfg.ReadTimeout > 0 {
		if rt, ok := port.(readTimeouter); ok {
			if err := rt.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
				port.Close()
				return &PortError{Port: name, Kind: PortUnavailable, Err: fmt.Errorf("set read timeout: %w", err)}
			}
		}
	}

	if _, err := writeFrame(port, []byte{oi.OpStart}); err != nil {
		port.Close()
		l.WithError(err).Debug("probe failed")
		return &PortError{Port: name, Kind: ProbeFailed, Err: err}
	}

	t.port = port
	t.name = name
	l.WithField("baud", oi.BaudRate).Info("robot connected")
	return nil
}

// Send writes frame in a single call.
func (t *Transport) Send(frame []byte) error {
	port, name := t.current()
	if port == nil {
		return ErrNoConnection
	}
	if n, err := writeFrame(port, frame); err != nil {
		return &SendError{
			Port:    name,
			Frame:   append([]byte(nil), frame...),
			Written: n,
			Err:     err,
		}
	}
	return nil
}

// ReceiveByte blocks until one byte arrives. There is no pairing with the
// query that caused it.
func (t *Transport) ReceiveByte() (byte, error) {
	var buf [1]byte
	if err := t.receive(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReceiveFull blocks until exactly n bytes arrive.
func (t *Transport) ReceiveFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := t.receive(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Transport) receive(buf []byte) error {
	port, name := t.current()
	if port == nil {
		return ErrNoConnection
	}
	got := 0
	for got < len(buf) {
		n, err := port.Read(buf[got:])
		got += n
		if got == len(buf) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s after %d/%d bytes: %w", ErrReadFailed, name, got, len(buf), err)
		}
		// go.bug.st/serial reports a read timeout as (0, nil).
		if n == 0 && t.cfg.ReadTimeout > 0 {
			return fmt.Errorf("%w: %s: no data within %v", ErrReadFailed, name, t.cfg.ReadTimeout)
		}
	}
	return nil
}

// IsOpen reports whether a connection is held.
func (t *Transport) IsOpen() bool {
	port, _ := t.current()
	return port != nil
}

// PortName returns the adopted port, or "" when unconnected.
func (t *Transport) PortName() string {
	_, name := t.current()
	return name
}

// Close releases the connection. It is safe to call at any time.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.log.WithField("port", t.name).Info("port closed")
	t.port = nil
	t.name = ""
	return err
}

// current snapshots the handle so blocking I/O does not hold the lock. A
// concurrent Close makes an in-flight read or write fail.
func (t *Transport) current() (Port, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port, t.name
}

func writeFrame(w io.Writer, frame []byte) (int, error) {
	n, err := w.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	return n, err
}
