package trace

import "fmt"

type textTracer struct {
	output
}

func (t *textTracer) Begin(h Header) error {
	start := h.Start.UTC()
	fmt.Fprintf(t.w, "port 0: %s\n", h.Ports[0])
	fmt.Fprintf(t.w, "port 1: %s\n", h.Ports[1])
	fmt.Fprintf(t.w, "start time: %s.%06d\n", start.Format(TimeLayout), start.Nanosecond()/1000)
	fmt.Fprintf(t.w, "Port parameters: %s\n", h.Params)
	if h.Mode != "" {
		fmt.Fprintf(t.w, "mode: %s\n", h.Mode)
	}
	return t.w.Flush()
}

func (t *textTracer) Byte(e Event) error {
	if t.ended {
		return errEnded
	}
	sec, usec := seconds(e.Offset)
	stamp := e.Time.UTC().Format(TimeLayout)
	var err error
	if e.Printable() {
		_, err = fmt.Fprintf(t.w, "%d %s %d.%06d 0x%02x %c\n", e.Line, stamp, sec, usec, e.Value, e.Value)
	} else {
		_, err = fmt.Fprintf(t.w, "%d %s %d.%06d 0x%02x\n", e.Line, stamp, sec, usec, e.Value)
	}
	if err != nil {
		return err
	}
	return t.record()
}

func (t *textTracer) End() error {
	t.ended = true
	return t.w.Flush()
}
