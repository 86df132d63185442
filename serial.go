package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by ReadByte and WriteByte when the device cannot
// complete the operation without stalling. It is not a failure: the caller
// retries on the next readiness poll.
var ErrWouldBlock = errors.New("serial: operation would block")

// Mode fixes how a port is opened for its whole lifetime.
type Mode int

const (
	// ReadOnly opens the device for observation only (monitor mode).
	ReadOnly Mode = iota
	// ReadWrite opens the device so bytes can be relayed out of it
	// (passthrough mode).
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "monitor"
	case ReadWrite:
		return "passthrough"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Port is one open serial device. The descriptor is non-blocking and has no
// controlling-terminal association. A Port is not safe for concurrent use;
// it is meant to be driven by a single readiness loop.
type Port struct {
	fd        int
	name      string
	mode      Mode
	closeOnce sync.Once
	buf       [1]byte
}

// Open opens the device at path non-blocking and without making it the
// controlling terminal. There is no retry: a missing device is a
// configuration error.
func Open(path string, mode Mode) (*Port, error) {
	flags := unix.O_NONBLOCK | unix.O_NOCTTY | unix.O_CLOEXEC
	switch mode {
	case ReadOnly:
		flags |= unix.O_RDONLY
	case ReadWrite:
		flags |= unix.O_RDWR
	default:
		return nil, fmt.Errorf("open %s: unknown mode %d", path, int(mode))
	}

	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Port{fd: fd, name: path, mode: mode}, nil
}

// Configure puts the port into raw mode and applies the line parameters.
// Hardware flow control is always disabled. The port stays non-blocking.
func (p *Port) Configure(params LineParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("configure %s: %w", p.name, err)
	}

	termios, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios %s: %w", p.name, err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag |= unix.CLOCAL | unix.CREAD

	// Baud rate
	speed := baudTable[params.Baud]
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	switch params.Parity {
	case ParityEven:
		termios.Cflag |= unix.PARENB
		termios.Cflag &^= unix.PARODD
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	default:
		termios.Cflag &^= unix.PARENB | unix.PARODD
	}

	termios.Cflag &^= unix.CSIZE
	if params.DataBits == 7 {
		termios.Cflag |= unix.CS7
	} else {
		termios.Cflag |= unix.CS8
	}

	if params.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	} else {
		termios.Cflag &^= unix.CSTOPB
	}

	// No flow control
	termios.Cflag &^= unix.CRTSCTS

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios %s: %w", p.name, err)
	}
	return nil
}

// ReadByte attempts a single non-blocking read. It returns ErrWouldBlock when
// nothing is available and io.EOF when the device reports end of stream.
func (p *Port) ReadByte() (byte, error) {
	for {
		n, err := unix.Read(p.fd, p.buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read %s: %w", p.name, err)
		case n == 0:
			return 0, io.EOF
		}
		return p.buf[0], nil
	}
}

// WriteByte attempts a single non-blocking write of c. It returns
// ErrWouldBlock when the device cannot accept the byte right now; in that
// case nothing was written.
func (p *Port) WriteByte(c byte) error {
	if p.mode != ReadWrite {
		return fmt.Errorf("write %s: port opened read-only", p.name)
	}
	b := [1]byte{c}
	for {
		n, err := unix.Write(p.fd, b[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return ErrWouldBlock
		case err != nil:
			return fmt.Errorf("write %s: %w", p.name, err)
		case n != 1:
			return ErrWouldBlock
		}
		return nil
	}
}

// Fd returns the underlying descriptor for readiness polling.
func (p *Port) Fd() int { return p.fd }

// Name returns the device path the port was opened from.
func (p *Port) Name() string { return p.name }

// Mode returns the mode the port was opened in.
func (p *Port) Mode() Mode { return p.mode }

// Close releases the descriptor. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = unix.Close(p.fd)
	})
	return err
}
