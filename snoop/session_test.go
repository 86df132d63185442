package snoop

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	serial "github.com/luhtfiimanal/go-serial-snoop"
	"github.com/luhtfiimanal/go-serial-snoop/trace"
)

// recorder is a Tracer that keeps everything it is given.
type recorder struct {
	mu      sync.Mutex
	header  trace.Header
	events  []trace.Event
	began   int
	ended   int
	flushes int
}

func (r *recorder) Begin(h trace.Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = h
	r.began++
	return nil
}

func (r *recorder) Byte(e trace.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func (r *recorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// line returns the bytes traced for one line, in trace order.
func (r *recorder) line(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b []byte
	for _, e := range r.events {
		if e.Line == id {
			b = append(b, e.Value)
		}
	}
	return string(b)
}

func ptyPair(t *testing.T) (*os.File, string) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave.Name()
}

func openSession(t *testing.T, relay bool, bufferSize int, tracer trace.Tracer) (*Session, [2]*os.File) {
	t.Helper()
	m0, p0 := ptyPair(t)
	m1, p1 := ptyPair(t)
	s, err := Open(Config{
		Ports:        [2]string{p0, p1},
		Params:       serial.DefaultParams,
		Relay:        relay,
		BufferSize:   bufferSize,
		PollInterval: 5 * time.Millisecond,
	}, tracer)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, [2]*os.File{m0, m1}
}

// tickUntil runs loop iterations until cond holds.
func tickUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "timeout waiting for condition")
		done, err := s.tick()
		require.NoError(t, err)
		require.False(t, done)
	}
}

func readN(t *testing.T, f *os.File, n int) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, n)
		if _, err := io.ReadFull(f, buf); err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(buf)
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout reading relayed bytes")
		return ""
	}
}

func TestSession_MonitorTracesInOrder(t *testing.T) {
	rec := &recorder{}
	s, masters := openSession(t, false, 0, rec)

	_, err := masters[0].Write([]byte("abc"))
	require.NoError(t, err)
	_, err = masters[1].Write([]byte("xy"))
	require.NoError(t, err)

	tickUntil(t, s, func() bool { return rec.count() == 5 })
	assert.Equal(t, "abc", rec.line(0))
	assert.Equal(t, "xy", rec.line(1))
	assert.Greater(t, rec.flushes, 0)
}

func TestSession_MonitorNeverWrites(t *testing.T) {
	rec := &recorder{}
	s, masters := openSession(t, false, 0, rec)

	for i := range s.ports {
		require.Nil(t, s.Endpoint(i).Relay())
	}

	_, err := masters[0].Write([]byte("data"))
	require.NoError(t, err)
	tickUntil(t, s, func() bool {
		for _, fd := range s.interest() {
			require.Zero(t, fd.Events&unix.POLLOUT)
		}
		return rec.count() == 4
	})
	for i := range s.ports {
		assert.Zero(t, s.Endpoint(i).Stats().Writes)
	}
}

func TestSession_TimestampsFromClock(t *testing.T) {
	rec := &recorder{}
	m0, p0 := ptyPair(t)
	_, p1 := ptyPair(t)

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var calls int
	s, err := Open(Config{
		Ports:  [2]string{p0, p1},
		Params: serial.DefaultParams,
		Now: func() time.Time {
			calls++
			return base.Add(time.Duration(calls) * time.Millisecond)
		},
	}, rec)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.start = s.now()

	_, err = m0.Write([]byte{0x00})
	require.NoError(t, err)
	tickUntil(t, s, func() bool { return rec.count() == 1 })

	e := rec.events[0]
	assert.Equal(t, 0, e.Line)
	assert.Equal(t, byte(0), e.Value)
	assert.Equal(t, base.Add(2*time.Millisecond), e.Time)
	assert.Equal(t, time.Millisecond, e.Offset)
}

func TestSession_PassthroughRelaysInOrder(t *testing.T) {
	rec := &recorder{}
	s, masters := openSession(t, true, 64, rec)

	_, err := masters[0].Write([]byte("hello"))
	require.NoError(t, err)
	_, err = masters[1].Write([]byte("ack"))
	require.NoError(t, err)

	tickUntil(t, s, func() bool {
		return s.Endpoint(1).Stats().Writes == 5 && s.Endpoint(0).Stats().Writes == 3
	})

	assert.Equal(t, "hello", readN(t, masters[1], 5))
	assert.Equal(t, "ack", readN(t, masters[0], 3))
	assert.Equal(t, "hello", rec.line(0))
	assert.Equal(t, "ack", rec.line(1))
	assert.False(t, s.Endpoint(0).WantWrite())
	assert.False(t, s.Endpoint(1).WantWrite())
}

func TestSession_PassthroughWriteInterest(t *testing.T) {
	rec := &recorder{}
	s, _ := openSession(t, true, 8, rec)

	require.NoError(t, s.Endpoint(1).Enqueue('z'))
	fds := s.interest()
	require.Len(t, fds, 3)
	assert.Zero(t, fds[0].Events&unix.POLLOUT)
	assert.NotZero(t, fds[1].Events&unix.POLLOUT)
	assert.Equal(t, int16(unix.POLLIN), fds[2].Events)
}

func TestSession_OverrunIsFatal(t *testing.T) {
	rec := &recorder{}
	s, masters := openSession(t, true, 4, rec)

	_, err := masters[0].Write(bytes.Repeat([]byte{'#'}, 32))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrOverrun)
	require.Equal(t, StatusCapacity, StatusOf(err))
	require.Equal(t, 0, rec.ended)
}

func TestSession_ShutdownNotification(t *testing.T) {
	rec := &recorder{}
	s, _ := openSession(t, false, 0, rec)

	s.Notifier().Notify()
	done, err := s.tick()
	require.NoError(t, err)
	require.True(t, done)
}

func TestSession_RunShutdownClosesXMLTrace(t *testing.T) {
	var out bytes.Buffer
	tracer, err := trace.New(trace.FormatXML, &out, trace.Options{})
	require.NoError(t, err)
	s, masters := openSession(t, false, 0, tracer)

	_, err = masters[0].Write([]byte("<&>"))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	s.Notifier().Notify()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return after shutdown")
	}

	var doc struct {
		Bytes []struct {
			Line  int    `xml:"line,attr"`
			ASCII string `xml:"ascii,attr"`
		} `xml:"data>byte"`
	}
	require.NoError(t, xml.Unmarshal(out.Bytes(), &doc))
	require.Len(t, doc.Bytes, 3)
	assert.Equal(t, "&", doc.Bytes[1].ASCII)
}

func TestSession_RunContextCancel(t *testing.T) {
	rec := &recorder{}
	s, _ := openSession(t, true, 0, rec)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return after cancel")
	}
	require.Equal(t, 1, rec.began)
	require.Equal(t, 1, rec.ended)
	require.Equal(t, "passthrough", rec.header.Mode)
	require.Equal(t, "1200E71", rec.header.Params)
}

func TestSession_EndOfStream(t *testing.T) {
	dir := t.TempDir()
	var devs [2]Device
	var writers [2]*os.File
	for i := range devs {
		path := filepath.Join(dir, []string{"a", "b"}[i])
		require.NoError(t, unix.Mkfifo(path, 0o600))
		port, err := serial.Open(path, serial.ReadOnly)
		require.NoError(t, err)
		devs[i] = port
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		require.NoError(t, err)
		t.Cleanup(func() { w.Close() })
		writers[i] = w
	}

	rec := &recorder{}
	s, err := New(devs, rec, Config{Params: serial.DefaultParams, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = writers[0].Write([]byte("ab"))
	require.NoError(t, err)
	require.NoError(t, writers[0].Close())

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return at end of stream")
	}
	assert.Equal(t, "ab", rec.line(0))
	assert.Equal(t, 1, rec.ended)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, p1 := ptyPair(t)
	_, err := Open(Config{
		Ports:  [2]string{filepath.Join(t.TempDir(), "ttyUSB9"), p1},
		Params: serial.DefaultParams,
	}, &recorder{})
	require.Error(t, err)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "open", serr.Op)
	assert.Equal(t, 0, serr.Endpoint)
	assert.Equal(t, StatusIO, StatusOf(err))
}

func TestOpen_ConfigureFailure(t *testing.T) {
	_, p0 := ptyPair(t)
	// A regular file is not a terminal.
	plain := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0o600))

	_, err := Open(Config{Ports: [2]string{p0, plain}, Params: serial.DefaultParams}, &recorder{})
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "configure", serr.Op)
	assert.Equal(t, 1, serr.Endpoint)
}
