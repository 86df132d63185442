package snoop

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	serial "github.com/luhtfiimanal/go-serial-snoop"
)

// DefaultMaxWriteErrors is how many failed relay writes an endpoint
// tolerates before the session is abandoned.
const DefaultMaxWriteErrors = 10

// Device is one open serial line. ReadByte and WriteByte must be
// non-blocking and report serial.ErrWouldBlock when the line is not ready;
// ReadByte reports io.EOF at end of stream. *serial.Port implements it.
type Device interface {
	io.ByteReader
	io.ByteWriter
	Fd() int
	Name() string
	Close() error
}

// Endpoint is one tapped line plus its buffering and error state.
type Endpoint struct {
	id             int
	dev            Device
	relay          *RelayBuffer
	maxWriteErrors int
	logger         *slog.Logger

	reads       uint64
	writes      uint64
	writeErrors int
	err         error
}

// NewEndpoint wraps dev. relay is nil in monitor mode.
func NewEndpoint(id int, dev Device, relay *RelayBuffer, maxWriteErrors int, logger *slog.Logger) *Endpoint {
	if maxWriteErrors <= 0 {
		maxWriteErrors = DefaultMaxWriteErrors
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Endpoint{
		id:             id,
		dev:            dev,
		relay:          relay,
		maxWriteErrors: maxWriteErrors,
		logger:         logger.With("port", id, "device", dev.Name()),
	}
}

// Drain returns the bytes available on the device right now, in arrival
// order. The sequence ends when the device would block, hits end of stream
// or fails; Err reports which after the range loop finishes. Each call
// starts a fresh sequence.
func (e *Endpoint) Drain() iter.Seq[byte] {
	return func(yield func(byte) bool) {
		e.err = nil
		for {
			c, err := e.dev.ReadByte()
			if err != nil {
				switch {
				case errors.Is(err, serial.ErrWouldBlock):
				case errors.Is(err, io.EOF):
					e.logger.Info("end of stream")
					e.err = &Error{Op: "read", Endpoint: e.id, Status: StatusOK, Err: ErrEndpointEOF}
				default:
					e.err = &Error{Op: "read", Endpoint: e.id, Status: StatusIO, Err: err}
				}
				return
			}
			e.reads++
			if !yield(c) {
				return
			}
		}
	}
}

// Err returns the condition that ended the last Drain sequence, or nil if
// it ended because the device would block.
func (e *Endpoint) Err() error { return e.err }

// Enqueue queues c to be written out of this endpoint. Only the peer's read
// path calls it, and only in passthrough mode.
func (e *Endpoint) Enqueue(c byte) error {
	if e.relay == nil {
		return &Error{Op: "relay", Endpoint: e.id, Status: StatusCorrupt, Err: errNoRelay}
	}
	if err := e.relay.Push(c); err != nil {
		return &Error{Op: "relay", Endpoint: e.id, Status: bufferStatus(err), Err: err}
	}
	return nil
}

// FlushOne attempts to write the oldest pending byte. The byte leaves the
// relay buffer only once the write succeeded. A write that would block
// changes nothing; any other failure is counted and becomes fatal once the
// count exceeds the endpoint's limit.
func (e *Endpoint) FlushOne() error {
	if e.relay == nil {
		return nil
	}
	c, ok := e.relay.Peek()
	if !ok {
		return nil
	}

	err := e.dev.WriteByte(c)
	switch {
	case err == nil:
		if err := e.relay.Advance(); err != nil {
			return &Error{Op: "relay", Endpoint: e.id, Status: bufferStatus(err), Err: err}
		}
		e.writes++
		return nil
	case errors.Is(err, serial.ErrWouldBlock):
		return nil
	}

	e.writeErrors++
	e.logger.Warn("relay write failed", "error", err, "write_errors", e.writeErrors)
	if e.writeErrors > e.maxWriteErrors {
		return &Error{
			Op:       "write",
			Endpoint: e.id,
			Status:   StatusIO,
			Err:      fmt.Errorf("%w (%d): %w", ErrWriteErrors, e.writeErrors, err),
		}
	}
	return nil
}

// WantWrite reports whether the endpoint has relay bytes waiting.
func (e *Endpoint) WantWrite() bool {
	return e.relay != nil && !e.relay.Empty()
}

// ID returns the line number, 0 or 1.
func (e *Endpoint) ID() int { return e.id }

// Fd returns the device descriptor.
func (e *Endpoint) Fd() int { return e.dev.Fd() }

// Name returns the device path.
func (e *Endpoint) Name() string { return e.dev.Name() }

// Relay returns the endpoint's relay buffer, nil in monitor mode.
func (e *Endpoint) Relay() *RelayBuffer { return e.relay }

// Stats is a snapshot of an endpoint's counters.
type Stats struct {
	Reads       uint64
	Writes      uint64
	WriteErrors int
	Pending     int
}

// Stats returns the endpoint's counters.
func (e *Endpoint) Stats() Stats {
	s := Stats{Reads: e.reads, Writes: e.writes, WriteErrors: e.writeErrors}
	if e.relay != nil {
		s.Pending = e.relay.Len()
	}
	return s
}

// Close releases the device.
func (e *Endpoint) Close() error { return e.dev.Close() }
