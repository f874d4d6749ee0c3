package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection is returned by I/O calls made before a port was adopted
	// or after Close.
	ErrNoConnection = errors.New("transport: no open connection")

	// ErrPortUnavailable matches a *PortError whose port could not be opened.
	ErrPortUnavailable = errors.New("transport: port unavailable")

	// ErrProbeFailed matches a *PortError whose port opened but did not
	// accept the start byte.
	ErrProbeFailed = errors.New("transport: probe failed")

	// ErrSendFailed matches every *SendError.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrReadFailed is wrapped by receive errors other than ErrNoConnection.
	ErrReadFailed = errors.New("transport: read failed")

	// ErrNoRobot is returned when discovery finds no responding port.
	ErrNoRobot = errors.New("transport: no robot found")
)

// FailureKind tells why a candidate port was rejected.
type FailureKind int

const (
	PortUnavailable FailureKind = iota
	ProbeFailed
)

func (k FailureKind) String() string {
	switch k {
	case PortUnavailable:
		return "port unavailable"
	case ProbeFailed:
		return "probe failed"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// PortError describes a rejected candidate port during TryOpen.
type PortError struct {
	Port string
	Kind FailureKind
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("transport: %s: %s: %v", e.Port, e.Kind, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

func (e *PortError) Is(target error) bool {
	switch target {
	case ErrPortUnavailable:
		return e.Kind == PortUnavailable
	case ErrProbeFailed:
		return e.Kind == ProbeFailed
	}
	return false
}

// SendError reports a frame that did not go out in full. A partial write is
// treated the same as no write at all.
type SendError struct {
	Port    string
	Frame   []byte
	Written int
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transport: send % X on %s failed after %d/%d bytes: %v",
		e.Frame, e.Port, e.Written, len(e.Frame), e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSendFailed }
