package sim

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/shaunagostinho/roomba-oi/internal/transport"
)

// DefaultPortName is the device path the demo robot appears under.
const DefaultPortName = "/dev/ttySIM0"

// Host pretends to be the operating system's serial subsystem: it lists a few
// ports, only one of which has a robot behind it.
type Host struct {
	Robot *Robot

	robotPort string
	others    []string
}

// NewHost returns a host with the robot on DefaultPortName and two empty
// ports that refuse to open.
func NewHost(robot *Robot) *Host {
	return &Host{
		Robot:     robot,
		robotPort: DefaultPortName,
		others:    []string{"/dev/ttyS0", "/dev/ttyS1"},
	}
}

// ListPorts satisfies transport.Config.ListPorts.
func (h *Host) ListPorts() ([]string, error) {
	return append(append([]string(nil), h.others...), h.robotPort), nil
}

// Open satisfies transport.Config.Open.
func (h *Host) Open(name string, mode *serial.Mode) (transport.Port, error) {
	if name != h.robotPort {
		return nil, fmt.Errorf("sim: %s: no such device", name)
	}
	if mode.BaudRate != 57600 {
		return nil, fmt.Errorf("sim: %s: unsupported baud rate %d", name, mode.BaudRate)
	}
	h.Robot.Reopen()
	return h.Robot, nil
}

// TransportConfig returns a transport.Config wired to this host.
func (h *Host) TransportConfig() transport.Config {
	return transport.Config{
		ListPorts: h.ListPorts,
		Open:      h.Open,
	}
}
