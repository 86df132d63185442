package snoop

import (
	"errors"
	"fmt"
)

// Status is the process exit status a session outcome maps to.
type Status int

const (
	StatusOK       Status = 0
	StatusUsage    Status = 1
	StatusIO       Status = 2
	StatusCapacity Status = 3
	// StatusCorrupt signals a broken relay buffer invariant: a bug, not an
	// environmental condition.
	StatusCorrupt Status = 99
)

var (
	ErrOverrun     = errors.New("relay buffer overrun")
	ErrUnderrun    = errors.New("relay buffer underrun")
	ErrCorrupt     = errors.New("relay buffer corrupted")
	ErrEndpointEOF = errors.New("end of stream")
	ErrWriteErrors = errors.New("too many write errors")
	errNoRelay     = errors.New("endpoint has no relay buffer")
)

// Error is a fatal session outcome. Endpoint is -1 when the failure is not
// tied to one port.
type Error struct {
	Op       string
	Endpoint int
	Status   Status
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s port %d: %v", e.Op, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the process exit status for the error.
func (e *Error) ExitCode() int { return int(e.Status) }

// StatusOf maps any error returned by this package to an exit status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Status
	}
	switch {
	case errors.Is(err, ErrEndpointEOF):
		return StatusOK
	case errors.Is(err, ErrCorrupt):
		return StatusCorrupt
	case errors.Is(err, ErrOverrun), errors.Is(err, ErrUnderrun):
		return StatusCapacity
	default:
		return StatusIO
	}
}

// bufferStatus classifies a RelayBuffer error.
func bufferStatus(err error) Status {
	if errors.Is(err, ErrCorrupt) {
		return StatusCorrupt
	}
	return StatusCapacity
}
