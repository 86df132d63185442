package snoop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	serial "github.com/luhtfiimanal/go-serial-snoop"
	"github.com/luhtfiimanal/go-serial-snoop/trace"
)

// DefaultPollInterval bounds how long one poll may wait before write
// interest is re-evaluated.
const DefaultPollInterval = 10 * time.Millisecond

// Config describes a capture session.
type Config struct {
	// Ports are the two device paths; Ports[i] becomes line i.
	Ports  [2]string
	Params serial.LineParams
	// Relay enables passthrough mode: every byte read on one line is also
	// written out of the other.
	Relay          bool
	BufferSize     int
	PollInterval   time.Duration
	MaxWriteErrors int
	Logger         *slog.Logger
	// Now overrides the clock used to timestamp bytes.
	Now func() time.Time
}

// Session is the explicit context of one capture: both endpoints, their
// relay buffers, the shutdown notifier and the trace.
type Session struct {
	ports    [2]*Endpoint
	notifier *Notifier
	tracer   trace.Tracer
	relay    bool
	interval time.Duration
	params   string
	logger   *slog.Logger
	now      func() time.Time
	start    time.Time
	fds      []unix.PollFd
}

// Open opens and configures both devices and returns a session ready to
// Run. Ports are opened read-only in monitor mode and read-write in
// passthrough mode. Any failure is fatal; nothing is retried.
func Open(cfg Config, tracer trace.Tracer) (*Session, error) {
	mode := serial.ReadOnly
	if cfg.Relay {
		mode = serial.ReadWrite
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var devs [2]Device
	closeAll := func() {
		for _, d := range devs {
			if d != nil {
				d.Close()
			}
		}
	}
	for i, path := range cfg.Ports {
		logger.Debug("opening port", "port", i, "device", path, "mode", mode)
		port, err := serial.Open(path, mode)
		if err != nil {
			closeAll()
			return nil, &Error{Op: "open", Endpoint: i, Status: StatusIO, Err: err}
		}
		devs[i] = port
		if err := port.Configure(cfg.Params); err != nil {
			closeAll()
			return nil, &Error{Op: "configure", Endpoint: i, Status: StatusIO, Err: err}
		}
	}

	s, err := New(devs, tracer, cfg)
	if err != nil {
		closeAll()
		return nil, err
	}
	return s, nil
}

// New builds a session over already opened devices. The session takes
// ownership of devs.
func New(devs [2]Device, tracer trace.Tracer, cfg Config) (*Session, error) {
	notifier, err := NewNotifier()
	if err != nil {
		return nil, &Error{Op: "notifier", Endpoint: -1, Status: StatusIO, Err: err}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		notifier: notifier,
		tracer:   tracer,
		relay:    cfg.Relay,
		interval: interval,
		params:   cfg.Params.String(),
		logger:   logger,
		now:      now,
		fds:      make([]unix.PollFd, 0, 3),
	}
	for i, dev := range devs {
		var buf *RelayBuffer
		if cfg.Relay {
			buf = NewRelayBuffer(cfg.BufferSize)
		}
		s.ports[i] = NewEndpoint(i, dev, buf, cfg.MaxWriteErrors, logger)
	}
	return s, nil
}

// Notifier returns the session's shutdown notifier. Hand it to signal
// handling with WatchSignals, or call Notify directly.
func (s *Session) Notifier() *Notifier { return s.notifier }

// Endpoint returns line i.
func (s *Session) Endpoint(i int) *Endpoint { return s.ports[i] }

// Run writes the trace header and loops until shutdown is requested, a
// line reaches end of stream, or a fatal error occurs. Shutdown and end of
// stream close the trace and return nil. A fatal error leaves the trace
// flushed but unterminated and is returned as an *Error.
//
// Cancelling ctx requests shutdown through the notifier.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.notifier.Notify)
	defer stop()

	s.start = s.now()
	mode := serial.ReadOnly
	if s.relay {
		mode = serial.ReadWrite
	}
	header := trace.Header{
		Ports:  [2]string{s.ports[0].Name(), s.ports[1].Name()},
		Start:  s.start,
		Params: s.params,
		Mode:   mode.String(),
	}
	if err := s.tracer.Begin(header); err != nil {
		return &Error{Op: "trace", Endpoint: -1, Status: StatusIO, Err: err}
	}
	s.logger.Info("capture started", "mode", mode, "params", s.params,
		"port0", header.Ports[0], "port1", header.Ports[1])

	for {
		done, err := s.tick()
		if err != nil && StatusOf(err) != StatusOK {
			s.tracer.Flush()
			return err
		}
		if done || err != nil {
			return s.finish()
		}
	}
}

func (s *Session) finish() error {
	if err := s.tracer.End(); err != nil {
		return &Error{Op: "trace", Endpoint: -1, Status: StatusIO, Err: err}
	}
	s.logger.Info("capture finished",
		"port0_bytes", s.ports[0].Stats().Reads, "port1_bytes", s.ports[1].Stats().Reads)
	return nil
}

// interest builds the poll set: both lines and the notifier for reading,
// a line for writing only while its relay buffer holds bytes.
func (s *Session) interest() []unix.PollFd {
	s.fds = s.fds[:0]
	for _, ep := range s.ports {
		events := int16(unix.POLLIN)
		if ep.WantWrite() {
			events |= unix.POLLOUT
		}
		s.fds = append(s.fds, unix.PollFd{Fd: int32(ep.Fd()), Events: events})
	}
	s.fds = append(s.fds, unix.PollFd{Fd: int32(s.notifier.Fd()), Events: unix.POLLIN})
	return s.fds
}

// tick runs one loop iteration. It reports done once shutdown has been
// requested. An error with StatusOK means a line reached end of stream.
func (s *Session) tick() (done bool, err error) {
	fds := s.interest()
	if _, err := unix.Poll(fds, int(s.interval/time.Millisecond)); err != nil {
		if errors.Is(err, unix.EINTR) {
			// The Go runtime interrupts blocking syscalls for its own
			// signals, so EINTR alone is not fatal here.
			if s.notifier.Pending() {
				s.logger.Info("shutdown requested")
				return true, nil
			}
			return false, nil
		}
		return false, &Error{Op: "poll", Endpoint: -1, Status: StatusIO, Err: err}
	}

	for i := range s.ports {
		if fds[i].Revents&unix.POLLNVAL != 0 {
			return false, &Error{Op: "poll", Endpoint: i, Status: StatusIO, Err: unix.EBADF}
		}
	}

	for i := range s.ports {
		if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			if err := s.drain(i); err != nil {
				return false, err
			}
		}
	}
	if err := s.tracer.Flush(); err != nil {
		return false, &Error{Op: "trace", Endpoint: -1, Status: StatusIO, Err: err}
	}

	for i, ep := range s.ports {
		if fds[i].Revents&unix.POLLOUT != 0 {
			if err := ep.FlushOne(); err != nil {
				return false, err
			}
		}
	}

	if fds[2].Revents != 0 {
		s.logger.Info("shutdown requested")
		return true, nil
	}
	return false, nil
}

// drain forwards every byte currently available on line i, in arrival
// order, to the peer's relay buffer and then to the trace.
func (s *Session) drain(i int) error {
	ep, peer := s.ports[i], s.ports[1-i]
	for c := range ep.Drain() {
		if s.relay {
			if err := peer.Enqueue(c); err != nil {
				return err
			}
		}
		now := s.now()
		event := trace.Event{Line: ep.ID(), Time: now, Offset: now.Sub(s.start), Value: c}
		if err := s.tracer.Byte(event); err != nil {
			return &Error{Op: "trace", Endpoint: -1, Status: StatusIO, Err: err}
		}
	}
	return ep.Err()
}

// Close releases both devices and the notifier.
func (s *Session) Close() error {
	var errs []error
	for _, ep := range s.ports {
		errs = append(errs, ep.Close())
	}
	errs = append(errs, s.notifier.Close())
	return errors.Join(errs...)
}
