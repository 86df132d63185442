// Package trace renders the bytes observed on the two tapped lines.
//
// A Tracer receives one Event per byte, framed by Begin and End. Three
// shapes are supported: plain line-oriented text, an XML document with a
// header and a data section, and a CBOR sequence (RFC 8742) of header, byte
// and trailer records.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"
)

// TimeLayout is the wall-clock layout used in text headers and records.
// Times are always rendered in UTC.
const TimeLayout = "2006-01-02T15:04:05"

// Format selects the serialization shape of a trace.
type Format string

const (
	FormatText Format = "text"
	FormatXML  Format = "xml"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatXML, FormatCBOR:
		return f, nil
	}
	return "", fmt.Errorf("unknown trace format %q (want text, xml or cbor)", s)
}

var errEnded = errors.New("trace already ended")

// Event is one observed byte.
type Event struct {
	Line   int
	Time   time.Time
	Offset time.Duration
	Value  byte
}

// Printable reports whether Value is a printable ASCII character.
func (e Event) Printable() bool { return e.Value >= 0x20 && e.Value < 0x7f }

// Header describes the capture session.
type Header struct {
	Ports  [2]string
	Start  time.Time
	Params string
	Mode   string
}

// Tracer consumes the observed bytes of a session.
type Tracer interface {
	Begin(Header) error
	Byte(Event) error
	// Flush pushes buffered records to the underlying writer.
	Flush() error
	// End closes any open framing and flushes. Calling it again is a no-op.
	End() error
}

// Options tune how records reach the underlying writer.
type Options struct {
	// FlushEach flushes after every record instead of leaving it to the
	// caller's Flush.
	FlushEach bool
}

// New returns a Tracer writing format to w.
func New(format Format, w io.Writer, opts Options) (Tracer, error) {
	out := output{w: bufio.NewWriter(w), flushEach: opts.FlushEach}
	switch format {
	case FormatText:
		return &textTracer{output: out}, nil
	case FormatXML:
		return &xmlTracer{output: out}, nil
	case FormatCBOR:
		return newCBORTracer(out), nil
	}
	return nil, fmt.Errorf("unknown trace format %q", format)
}

// output is the buffered sink shared by all formats.
type output struct {
	w         *bufio.Writer
	flushEach bool
	ended     bool
}

func (o *output) record() error {
	if o.flushEach {
		return o.w.Flush()
	}
	return nil
}

func (o *output) Flush() error { return o.w.Flush() }

// seconds splits d into whole seconds and microseconds.
func seconds(d time.Duration) (int64, int64) {
	return int64(d / time.Second), int64(d%time.Second) / int64(time.Microsecond)
}
