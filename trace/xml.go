package trace

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type xmlTracer struct {
	output
	began bool
}

func (t *xmlTracer) Begin(h Header) error {
	fmt.Fprintf(t.w, "<?xml version='1.0' encoding='UTF-8' ?>\n"+
		"<capture>\n"+
		" <header>\n"+
		"  <starttime>%d.%06d</starttime>\n"+
		"  <port><id>0</id><name>%s</name></port>\n"+
		"  <port><id>1</id><name>%s</name></port>\n"+
		"  <parameters>%s</parameters>\n",
		h.Start.Unix(), h.Start.Nanosecond()/1000,
		escape(h.Ports[0]), escape(h.Ports[1]), escape(h.Params))
	if h.Mode != "" {
		fmt.Fprintf(t.w, "  <mode>%s</mode>\n", escape(h.Mode))
	}
	fmt.Fprint(t.w, " </header>\n <data>\n")
	t.began = true
	return t.w.Flush()
}

func (t *xmlTracer) Byte(e Event) error {
	if t.ended {
		return errEnded
	}
	sec, usec := seconds(e.Offset)
	var err error
	if e.Printable() {
		_, err = fmt.Fprintf(t.w, "  <byte line='%d' time='%d.%06d' value='0x%02x' ascii='%s' />\n",
			e.Line, sec, usec, e.Value, escape(string(rune(e.Value))))
	} else {
		_, err = fmt.Fprintf(t.w, "  <byte line='%d' time='%d.%06d' value='0x%02x' />\n",
			e.Line, sec, usec, e.Value)
	}
	if err != nil {
		return err
	}
	return t.record()
}

func (t *xmlTracer) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	if t.began {
		fmt.Fprint(t.w, " </data>\n</capture>\n")
	}
	return t.w.Flush()
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
