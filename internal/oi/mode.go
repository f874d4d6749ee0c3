package oi

import (
	"fmt"
	"strings"
)

// Mode is the host's last known view of the firmware's command-acceptance
// state. It is not guaranteed to match the robot after a failure or an
// external reset.
type Mode int

const (
	ModeOff Mode = iota
	ModePassive
	ModeSafe
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModePassive:
		return "passive"
	case ModeSafe:
		return "safe"
	case ModeFull:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText lets Mode appear as its name in JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "passive":
		return ModePassive, nil
	case "safe":
		return ModeSafe, nil
	case "full":
		return ModeFull, nil
	}
	return ModeOff, fmt.Errorf("oi: unknown mode %q", s)
}

// Event is something the controller did that may move the mode.
type Event int

const (
	// EventConnect is port discovery plus the start probe.
	EventConnect Event = iota
	EventSafe
	EventFull
	// EventStop is the stop-OI command sent on disconnect.
	EventStop
	EventReset
	// EventSend is any other command frame (drive, LEDs, sensor query).
	EventSend
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventSafe:
		return "safe"
	case EventFull:
		return "full"
	case EventStop:
		return "stop"
	case EventReset:
		return "reset"
	case EventSend:
		return "send"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Next returns the mode after ev, where ok reports whether the underlying
// transmission succeeded.
//
// A failed transmission always lands in ModeOff. The firmware itself only
// drops to passive on a safety fault, but the host cannot tell that apart
// from a dead link. The current mode is never checked for legality; the
// firmware rejects what it does not accept.
func Next(current Mode, ev Event, ok bool) Mode {
	if !ok {
		return ModeOff
	}
	switch ev {
	case EventConnect:
		return ModePassive
	case EventSafe:
		return ModeSafe
	case EventFull:
		return ModeFull
	case EventStop, EventReset:
		return ModeOff
	default:
		return current
	}
}
