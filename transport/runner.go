package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"go.uber.org/dig"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/metrics"
	"github.com/harborgrid/harbormaster/server"
)

// Runner is the standard TCP server runner. Start binds synchronously and
// runs the accept loop in the background; each accepted connection is served
// by a session built from the binding's protocol service.
type Runner struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

var _ interfaces.ServerRunner = (*Runner)(nil)

// NewRunner creates a TCP runner. The metrics handle may be nil.
func NewRunner(log *slog.Logger, m *metrics.Metrics) *Runner {
	return &Runner{log: log, metrics: m}
}

type runnerParams struct {
	dig.In

	Log     *slog.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func newRunnerFromScope(p runnerParams) interfaces.ServerRunner {
	return NewRunner(p.Log, p.Metrics)
}

// Register adds the standard TCP runner to the kind set under
// interfaces.DefaultServerKind. It hosts any protocol service.
func Register(ks *server.KindSet) error {
	return ks.RegisterServer(server.ServerKindInfo{
		Kind: interfaces.DefaultServerKind,
		New:  newRunnerFromScope,
	})
}

// Start binds the endpoint and launches the accept loop. The returned task
// is already listening; its Done channel closes only after the loop exits
// and every session has drained. Bind failures wrap
// interfaces.ErrBindFailed.
func (r *Runner) Start(ctx context.Context, b interfaces.Binding) (interfaces.BackgroundTask, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", b.Endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBindFailed, err)
	}
	addr := ln.Addr()
	if b.TLS != nil {
		ln = tls.NewListener(ln, b.TLS)
	}

	// Sessions get their own context so canceling the creation context
	// cannot tear down a server that is already running.
	loopCtx, cancel := context.WithCancel(context.Background())
	task := &Task{
		listener: ln,
		addr:     addr,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go r.serve(loopCtx, task, b)

	return task, nil
}

func (r *Runner) serve(ctx context.Context, task *Task, b interfaces.Binding) {
	log := b.Log
	sem := make(chan struct{}, b.Options.MaxSessions)
	var wg sync.WaitGroup

	var loopErr error
	for {
		conn, err := task.listener.Accept()
		if err != nil {
			if isClosed(err) || task.stopping.Load() {
				break
			}
			loopErr = fmt.Errorf("accepting connection: %w", err)
			task.listener.Close()
			break
		}

		select {
		case sem <- struct{}{}:
		default:
			log.Warn("Session limit reached, rejecting connection",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Int("maxSessions", b.Options.MaxSessions))
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.serveConn(ctx, conn, b)
		}()
	}

	task.cancel()
	wg.Wait()
	task.finish(loopErr)
}

func (r *Runner) serveConn(ctx context.Context, conn net.Conn, b interfaces.Binding) {
	log := b.Log.With(slog.String("remote", conn.RemoteAddr().String()))

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(b.Options.TCPNoDelay); err != nil {
			log.Warn("Setting TCP_NODELAY failed", "err", err)
		}
	}

	session, err := b.Service.NewSession(interfaces.SessionEnv{
		Endpoint:   b.Endpoint,
		RemoteAddr: conn.RemoteAddr(),
		Encoding:   b.Encoding,
		Options:    b.Options,
		UserState:  b.UserState,
		Log:        log,
	})
	if err != nil {
		log.Error("Session construction failed", "err", err)
		conn.Close()
		return
	}

	service := b.Service.Kind().String()
	r.metrics.RecordSessionOpened(service)
	defer r.metrics.RecordSessionClosed()

	if b.Options.LogSessions {
		log.Info("Session opened")
		defer log.Info("Session closed")
	}

	if err := session.Serve(ctx, conn); err != nil && !isDisconnect(err) {
		log.Warn("Session ended with error", "err", err)
	}
}

// isClosed reports whether err is the listener-closed error the accept loop
// sees after RequestStop.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// isDisconnect reports whether err is an ordinary session-end condition not
// worth logging.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
