package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/harborgrid/harbormaster/audit"
	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/metrics"
)

// withdrawTimeout bounds the discovery withdrawal performed during teardown.
const withdrawTimeout = 10 * time.Second

// Announcer publishes and withdraws provisioned endpoints in an external
// discovery system. Failures are logged, never fatal to the lifecycle.
type Announcer interface {
	Announce(ctx context.Context, service interfaces.ServiceKind, ep interfaces.Endpoint) error
	Withdraw(ctx context.Context, service interfaces.ServiceKind, ep interfaces.Endpoint) error
}

// lifecycleHooks are the factory-owned collaborators an instance notifies
// during teardown.
type lifecycleHooks struct {
	registry  interfaces.ServerRegistry
	audit     audit.Sink
	announcer Announcer
	metrics   *metrics.Metrics
}

// Instance is one provisioned server: the long-lived owner of its dependency
// scope, its accept-loop task and its options snapshot, holding the registry
// registration as a back-reference for teardown.
//
// Instances are produced by Factory.Create only. The state machine moves
// forward through Created, Starting, Running, Stopping and Stopped; Stopped
// is terminal and a new Create call is required to listen again.
type Instance struct {
	id        uuid.UUID
	endpoint  interfaces.Endpoint
	service   interfaces.ServiceKind
	server    interfaces.ServerKind
	encoding  interfaces.Encoding
	options   interfaces.ServiceOptions
	userState any
	createdAt time.Time
	log       *slog.Logger

	scope interfaces.DependencyScope
	hooks lifecycleHooks

	mu           sync.Mutex
	state        interfaces.ServerState
	task         interfaces.BackgroundTask
	registration *interfaces.ServerRegistration
	terminalErr  error

	stopRequested atomic.Bool
	stopped       chan struct{}
}

var _ interfaces.ServerHandle = (*Instance)(nil)

func newInstance(ep interfaces.Endpoint, service interfaces.ServiceKind, serverKind interfaces.ServerKind, encoding interfaces.Encoding, options interfaces.ServiceOptions, userState any, log *slog.Logger, scope interfaces.DependencyScope, hooks lifecycleHooks) *Instance {
	return &Instance{
		id:        uuid.Must(uuid.NewRandom()),
		endpoint:  ep,
		service:   service,
		server:    serverKind,
		encoding:  encoding,
		options:   options,
		userState: userState,
		createdAt: time.Now(),
		log:       log,
		scope:     scope,
		hooks:     hooks,
		state:     interfaces.StateCreated,
		stopped:   make(chan struct{}),
	}
}

// ID is the unique instance identifier.
func (s *Instance) ID() uuid.UUID { return s.id }

// Endpoint the server was created for.
func (s *Instance) Endpoint() interfaces.Endpoint { return s.endpoint }

// ServiceKind the server hosts.
func (s *Instance) ServiceKind() interfaces.ServiceKind { return s.service }

// ServerKind of the runner hosting the service.
func (s *Instance) ServerKind() interfaces.ServerKind { return s.server }

// Encoding is the fallback session encoding.
func (s *Instance) Encoding() interfaces.Encoding { return s.encoding }

// Options returns the instance's options snapshot.
func (s *Instance) Options() interfaces.ServiceOptions { return s.options }

// UserState returns the opaque creation-time state.
func (s *Instance) UserState() any { return s.userState }

// CreatedAt is the instance creation time.
func (s *Instance) CreatedAt() time.Time { return s.createdAt }

// Logger returns the instance's logger: the creation request's logger when
// one was supplied, the factory default otherwise.
func (s *Instance) Logger() *slog.Logger { return s.log }

// State reports the current lifecycle state.
func (s *Instance) State() interfaces.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports the accept loop's terminal error once the instance is
// stopped. Nil means the loop exited because it was asked to.
func (s *Instance) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalErr
}

// Stop requests termination of the accept loop and blocks until teardown
// completes or the context is cancelled. Stopping an already stopped
// instance is a no-op.
func (s *Instance) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == interfaces.StateStopped {
		s.mu.Unlock()
		return nil
	}
	if s.state == interfaces.StateRunning {
		s.state = interfaces.StateStopping
	}
	task := s.task
	s.mu.Unlock()

	s.stopRequested.Store(true)
	if task != nil {
		task.RequestStop()
	}

	return s.Wait(ctx)
}

// Wait blocks until the instance reaches Stopped or the context is
// cancelled.
func (s *Instance) Wait(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markStarting records that the factory is about to start the accept loop.
func (s *Instance) markStarting(task interfaces.BackgroundTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = interfaces.StateStarting
	s.task = task
}

// abort finalizes an instance whose accept loop never started (bind
// failure). The scope is disposed and the terminal state reached without a
// registration ever existing.
func (s *Instance) abort(err error) {
	s.mu.Lock()
	s.state = interfaces.StateStopped
	s.terminalErr = err
	s.mu.Unlock()

	if cerr := s.scope.Close(); cerr != nil && !errors.Is(cerr, interfaces.ErrScopeClosed) {
		s.log.Error("Scope disposal failed during abort", "err", cerr)
	}
	close(s.stopped)
}

// completeStart stores the registration handle, marks the instance running
// and launches the teardown watchdog.
func (s *Instance) completeStart(reg *interfaces.ServerRegistration) {
	s.mu.Lock()
	s.registration = reg
	s.state = interfaces.StateRunning
	s.mu.Unlock()

	go s.watch()
}

// watch is the single teardown path for a started instance. It waits for the
// accept-loop task to fully exit, then unwinds in order: registry entry,
// discovery announcement, metrics, audit, and only then the dependency
// scope, so no in-flight session can observe a disposed scope.
func (s *Instance) watch() {
	<-s.task.Done()
	taskErr := s.task.Err()

	s.mu.Lock()
	if s.state == interfaces.StateRunning {
		s.state = interfaces.StateStopping
	}
	reg := s.registration
	s.mu.Unlock()

	requested := s.stopRequested.Load()
	if taskErr != nil && !requested {
		s.log.Error("Server accept loop terminated", "err", taskErr)
	}

	s.hooks.registry.Unregister(reg)

	if s.hooks.announcer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
		if err := s.hooks.announcer.Withdraw(ctx, s.service, s.endpoint); err != nil {
			s.log.Warn("Discovery withdrawal failed", "err", err)
		}
		cancel()
	}

	s.hooks.metrics.RecordServerStopped()
	s.recordTerminalEvent(taskErr, requested)

	if err := s.scope.Close(); err != nil && !errors.Is(err, interfaces.ErrScopeClosed) {
		s.log.Error("Scope disposal failed", "err", err)
	}

	s.mu.Lock()
	s.terminalErr = taskErr
	s.state = interfaces.StateStopped
	s.mu.Unlock()
	close(s.stopped)

	s.log.Info("Server stopped", slog.String("endpoint", s.endpoint.String()))
}

func (s *Instance) recordTerminalEvent(taskErr error, requested bool) {
	if s.hooks.audit == nil {
		return
	}

	ev := audit.Event{
		Time:     time.Now(),
		Event:    audit.EventServerStopped,
		ServerID: s.id.String(),
		Endpoint: s.endpoint.String(),
		Service:  s.service.String(),
	}
	if taskErr != nil && !requested {
		ev.Event = audit.EventServerFailed
		ev.Detail = taskErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
	defer cancel()
	if err := s.hooks.audit.Record(ctx, ev); err != nil {
		s.log.Warn("Audit record failed", "err", err)
	}
}
