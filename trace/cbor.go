package trace

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// session always produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("trace: CBOR encoder initialization failed: " + err.Error())
	}
}

// HeaderRecord is the first item of a CBOR trace.
type HeaderRecord struct {
	Ports  []string  `cbor:"ports"`
	Start  time.Time `cbor:"start"`
	Params string    `cbor:"params"`
	Mode   string    `cbor:"mode,omitempty"`
}

// ByteRecord is one observed byte, encoded as the array
// [line, unix nanoseconds, nanoseconds since start, value].
type ByteRecord struct {
	_      struct{} `cbor:",toarray"`
	Line   int
	Time   int64
	Offset int64
	Value  byte
}

// TrailerRecord is the last item of a CBOR trace.
type TrailerRecord struct {
	Last  time.Time `cbor:"last"`
	Bytes uint64    `cbor:"bytes"`
}

type cborTracer struct {
	output
	enc   *cbor.Encoder
	count uint64
	last  time.Time
	began bool
}

func newCBORTracer(out output) *cborTracer {
	return &cborTracer{output: out, enc: encMode.NewEncoder(out.w)}
}

func (t *cborTracer) Begin(h Header) error {
	rec := HeaderRecord{
		Ports:  h.Ports[:],
		Start:  h.Start.UTC(),
		Params: h.Params,
		Mode:   h.Mode,
	}
	if err := t.enc.Encode(rec); err != nil {
		return err
	}
	t.began = true
	t.last = h.Start
	return t.w.Flush()
}

func (t *cborTracer) Byte(e Event) error {
	if t.ended {
		return errEnded
	}
	rec := ByteRecord{Line: e.Line, Time: e.Time.UnixNano(), Offset: int64(e.Offset), Value: e.Value}
	if err := t.enc.Encode(rec); err != nil {
		return err
	}
	t.count++
	t.last = e.Time
	return t.record()
}

func (t *cborTracer) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	if t.began {
		if err := t.enc.Encode(TrailerRecord{Last: t.last.UTC(), Bytes: t.count}); err != nil {
			return err
		}
	}
	return t.w.Flush()
}
