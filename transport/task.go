package transport

import (
	"context"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Task is one running accept loop. The listener is already bound when the
// task is handed out; Done is closed only after the loop has exited and
// every in-flight session has returned.
type Task struct {
	listener net.Listener
	addr     net.Addr
	cancel   context.CancelFunc

	stopOnce sync.Once
	stopping atomic.Bool
	done     chan struct{}

	mu  sync.Mutex
	err error
}

var _ interfaces.BackgroundTask = (*Task)(nil)

// Addr returns the bound listener address. When the endpoint requested port
// 0 this carries the port the kernel picked.
func (t *Task) Addr() net.Addr { return t.addr }

// RequestStop closes the listener and cancels the context passed to every
// session. Safe to call multiple times.
func (t *Task) RequestStop() {
	t.stopOnce.Do(func() {
		t.stopping.Store(true)
		t.cancel()
		if err := t.listener.Close(); err != nil && !isClosed(err) {
			t.mu.Lock()
			if t.err == nil {
				t.err = err
			}
			t.mu.Unlock()
		}
	})
}

// Done is closed once the accept loop has exited and all sessions drained.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the loop's terminal error. Nil before Done closes and after a
// requested stop.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task completes or ctx expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	close(t.done)
}
