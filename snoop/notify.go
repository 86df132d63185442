package snoop

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// Notifier turns asynchronous shutdown requests into readiness of a
// descriptor the session polls like any other. It is a self-pipe: the
// asynchronous side writes one marker byte and does nothing else, so all
// endpoint and buffer state stays confined to the loop.
type Notifier struct {
	pipeR int
	pipeW int

	mu        sync.Mutex
	watchers  []func()
	closeOnce sync.Once
}

// NewNotifier creates the self-pipe.
func NewNotifier() (*Notifier, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	return &Notifier{pipeR: fds[0], pipeW: fds[1]}, nil
}

// Notify requests shutdown. It is safe to call from any goroutine and any
// number of times; a full pipe already carries a pending request.
func (n *Notifier) Notify() {
	unix.Write(n.pipeW, []byte{'i'})
}

// Fd returns the read end for readiness polling.
func (n *Notifier) Fd() int { return n.pipeR }

// Pending reports whether a shutdown request is waiting, without
// consuming it.
func (n *Notifier) Pending() bool {
	pfd := []unix.PollFd{{Fd: int32(n.pipeR), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(pfd, 0)
		if err == unix.EINTR {
			continue
		}
		return err == nil && pfd[0].Revents&unix.POLLIN != 0
	}
}

// WatchSignals forwards every delivery of sigs, and the cancellation of
// ctx, into Notify. The returned function stops watching; Close stops all
// watchers too.
func (n *Notifier) WatchSignals(ctx context.Context, sigs ...os.Signal) (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, sigs...)

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-signals:
				n.Notify()
			case <-ctx.Done():
				n.Notify()
				return
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(signals)
			close(quit)
			wg.Wait()
		})
	}
	n.mu.Lock()
	n.watchers = append(n.watchers, stop)
	n.mu.Unlock()
	return stop
}

// Close stops signal delivery and releases both pipe ends. Safe to call
// multiple times; subsequent calls are no-ops.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		watchers := n.watchers
		n.watchers = nil
		n.mu.Unlock()
		for _, stop := range watchers {
			stop()
		}
		err = unix.Close(n.pipeR)
		if werr := unix.Close(n.pipeW); err == nil {
			err = werr
		}
	})
	return err
}
