package serial

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidParams reports a port-parameter string that does not match
	// the <baud>[N|E|O][7|8][1|2] grammar.
	ErrInvalidParams = errors.New("invalid port parameters")
	// ErrUnsupportedBaud reports a baud rate outside the supported set.
	ErrUnsupportedBaud = errors.New("unsupported baud rate")
)

// Parity selects the parity bit mode of a line.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// LineParams is the line discipline applied identically to both ports.
type LineParams struct {
	Baud     int
	Parity   Parity
	DataBits int
	StopBits int
}

// DefaultParams is 1200 baud, even parity, 7 data bits, 1 stop bit.
var DefaultParams = LineParams{Baud: 1200, Parity: ParityEven, DataBits: 7, StopBits: 1}

var baudTable = map[int]uint32{
	300:    unix.B300,
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

var paramsPattern = regexp.MustCompile(`(?i)^([1-9][0-9]*)(N|E|O)?(7|8)?(1|2)?$`)

// ParseParams parses a compact port-parameter string such as "9600N81".
// Omitted parity, data bits and stop bits default to E, 7 and 1.
func ParseParams(s string) (LineParams, error) {
	m := paramsPattern.FindStringSubmatch(s)
	if m == nil {
		return LineParams{}, fmt.Errorf("%w: %q", ErrInvalidParams, s)
	}

	baud, err := strconv.Atoi(m[1])
	if err != nil {
		return LineParams{}, fmt.Errorf("%w: %q", ErrInvalidParams, s)
	}
	params := DefaultParams
	params.Baud = baud
	if m[2] != "" {
		params.Parity = Parity(strings.ToUpper(m[2])[0])
	}
	if m[3] != "" {
		params.DataBits = int(m[3][0] - '0')
	}
	if m[4] != "" {
		params.StopBits = int(m[4][0] - '0')
	}
	if err := params.Validate(); err != nil {
		return LineParams{}, err
	}
	return params, nil
}

// Validate reports whether every field is within the supported set.
func (p LineParams) Validate() error {
	if _, ok := baudTable[p.Baud]; !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, p.Baud)
	}
	switch p.Parity {
	case ParityNone, ParityEven, ParityOdd:
	default:
		return fmt.Errorf("%w: parity %q", ErrInvalidParams, rune(p.Parity))
	}
	if p.DataBits != 7 && p.DataBits != 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidParams, p.DataBits)
	}
	if p.StopBits != 1 && p.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidParams, p.StopBits)
	}
	return nil
}

// String renders the parameters in the compact form accepted by
// ParseParams, e.g. "1200E71".
func (p LineParams) String() string {
	return fmt.Sprintf("%d%c%d%d", p.Baud, p.Parity, p.DataBits, p.StopBits)
}

// SupportedBaud reports whether baud can be configured.
func SupportedBaud(baud int) bool {
	_, ok := baudTable[baud]
	return ok
}
