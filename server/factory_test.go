package server_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/harborgrid/harbormaster/audit"
	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/metrics"
	"github.com/harborgrid/harbormaster/registry"
	"github.com/harborgrid/harbormaster/scope"
	"github.com/harborgrid/harbormaster/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTask completes when asked to stop, or earlier via crash.
type fakeTask struct {
	stopOnce sync.Once
	stopping chan struct{}
	doneOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func newFakeTask() *fakeTask {
	t := &fakeTask{
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		<-t.stopping
		t.finish(nil)
	}()
	return t
}

func (t *fakeTask) RequestStop() {
	t.stopOnce.Do(func() { close(t.stopping) })
}

func (t *fakeTask) Done() <-chan struct{} { return t.done }

func (t *fakeTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// crash terminates the task with err as if the accept loop failed.
func (t *fakeTask) crash(err error) {
	t.finish(err)
}

func (t *fakeTask) finish(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

// fakeRunner hands out fakeTasks and records the bindings it saw.
type fakeRunner struct {
	mu       sync.Mutex
	bindErr  error
	tasks    []*fakeTask
	bindings []interfaces.Binding
}

func (r *fakeRunner) Start(ctx context.Context, b interfaces.Binding) (interfaces.BackgroundTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindErr != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBindFailed, r.bindErr)
	}
	task := newFakeTask()
	r.tasks = append(r.tasks, task)
	r.bindings = append(r.bindings, b)
	return task, nil
}

func (r *fakeRunner) lastTask() *fakeTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[len(r.tasks)-1]
}

func (r *fakeRunner) lastBinding() interfaces.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings[len(r.bindings)-1]
}

type fakeService struct{}

func (fakeService) Kind() interfaces.ServiceKind { return "fake" }

func (fakeService) NewSession(interfaces.SessionEnv) (interfaces.Session, error) {
	return nil, errors.New("fake service has no sessions")
}

// trackingProvider wraps a real scope provider and counts Close calls per
// scope.
type trackingProvider struct {
	inner interfaces.ScopeProvider

	mu     sync.Mutex
	scopes []*trackingScope
}

func (p *trackingProvider) NewScope() interfaces.DependencyScope {
	s := &trackingScope{DependencyScope: p.inner.NewScope()}
	p.mu.Lock()
	p.scopes = append(p.scopes, s)
	p.mu.Unlock()
	return s
}

func (p *trackingProvider) all() []*trackingScope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*trackingScope(nil), p.scopes...)
}

type trackingScope struct {
	interfaces.DependencyScope
	closes atomic.Int32
}

func (s *trackingScope) Close() error {
	s.closes.Inc()
	return s.DependencyScope.Close()
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) byType(event audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

type recordingAnnouncer struct {
	mu        sync.Mutex
	announced []interfaces.Endpoint
	withdrawn []interfaces.Endpoint
}

func (a *recordingAnnouncer) Announce(_ context.Context, _ interfaces.ServiceKind, ep interfaces.Endpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announced = append(a.announced, ep)
	return nil
}

func (a *recordingAnnouncer) Withdraw(_ context.Context, _ interfaces.ServiceKind, ep interfaces.Endpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.withdrawn = append(a.withdrawn, ep)
	return nil
}

func (a *recordingAnnouncer) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.announced), len(a.withdrawn)
}

type missingDep struct{}

type fixture struct {
	registry  *registry.Registry
	scopes    *trackingProvider
	runner    *fakeRunner
	kinds     *server.KindSet
	sink      *recordingSink
	announcer *recordingAnnouncer
	factory   *server.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()

	runner := &fakeRunner{}
	ks := server.NewKindSet()
	require.NoError(t, ks.RegisterService(server.ServiceKindInfo{
		Kind: "fake",
		New: func(log *slog.Logger) interfaces.ProtocolService {
			return fakeService{}
		},
	}))
	require.NoError(t, ks.RegisterServer(server.ServerKindInfo{
		Kind: interfaces.DefaultServerKind,
		New: func() interfaces.ServerRunner {
			return runner
		},
	}))

	fx := &fixture{
		registry:  registry.NewRegistry(log),
		scopes:    &trackingProvider{inner: scope.NewProvider(log)},
		runner:    runner,
		kinds:     ks,
		sink:      &recordingSink{},
		announcer: &recordingAnnouncer{},
	}

	factory, err := server.New(server.FactoryConfig{
		Registry:  fx.registry,
		Scopes:    fx.scopes,
		Kinds:     ks,
		Audit:     fx.sink,
		Announcer: fx.announcer,
		Metrics:   metrics.NewMetrics("harbormaster_test"),
		Log:       log,
	})
	require.NoError(t, err)
	fx.factory = factory
	return fx
}

func (fx *fixture) create(t *testing.T, port int) *server.Instance {
	t.Helper()
	inst, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    port,
	})
	require.NoError(t, err)
	return inst
}

func TestCreateRunsServer(t *testing.T) {
	fx := newFixture(t)

	inst := fx.create(t, 104)

	assert.Equal(t, interfaces.StateRunning, inst.State())
	assert.Equal(t, interfaces.ServiceKind("fake"), inst.ServiceKind())
	assert.Equal(t, interfaces.DefaultServerKind, inst.ServerKind())
	assert.Equal(t, 1, fx.registry.Len())

	reg, ok := fx.registry.Lookup(inst.Endpoint())
	require.True(t, ok)
	assert.Equal(t, inst.ID(), reg.Server.ID())

	require.Len(t, fx.sink.byType(audit.EventServerCreated), 1)
	announced, _ := fx.announcer.counts()
	assert.Equal(t, 1, announced)
}

func TestCreateDuplicateEndpointFails(t *testing.T) {
	fx := newFixture(t)

	inst := fx.create(t, 104)

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    104,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrPortInUse)

	// The holder is untouched.
	assert.Equal(t, interfaces.StateRunning, inst.State())
	assert.Equal(t, 1, fx.registry.Len())
	require.Len(t, fx.sink.byType(audit.EventCreateFailed), 1)
}

func TestCreateDistinctEndpointsCoexist(t *testing.T) {
	fx := newFixture(t)

	a := fx.create(t, 104)
	b := fx.create(t, 105)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, fx.registry.Len())
}

func TestCreateUnknownServiceKind(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "nope",
		Port:    104,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnknownServiceKind)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	// Validation rejects before any side effect.
	assert.Equal(t, 0, fx.registry.Len())
	assert.Empty(t, fx.scopes.all())
}

func TestCreateInvalidEndpoint(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    70000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrInvalidEndpoint)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	assert.Empty(t, fx.scopes.all())
}

func TestCreateIncompatibleKinds(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.kinds.RegisterServer(server.ServerKindInfo{
		Kind:  "picky",
		Hosts: []interfaces.ServiceKind{"other"},
		New: func() interfaces.ServerRunner {
			return fx.runner
		},
	}))

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Server:  "picky",
		Port:    104,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrIncompatibleKinds)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestCreateUnknownEncoding(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service:  "fake",
		Port:     104,
		Encoding: "utf-16",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnknownEncoding)
}

func TestCreateCertificateWithoutSource(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service:     "fake",
		Port:        104,
		Certificate: "file:///tmp/cert.pem",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrInvalidCertificateRef)
	assert.Equal(t, 0, fx.registry.Len())
}

func TestBindFailureLeavesNoTrace(t *testing.T) {
	fx := newFixture(t)
	fx.runner.bindErr = errors.New("address family not supported")

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    104,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrBindFailed)

	assert.Equal(t, 0, fx.registry.Len())
	scopes := fx.scopes.all()
	require.Len(t, scopes, 1)
	assert.Equal(t, int32(1), scopes[0].closes.Load())
	require.Len(t, fx.sink.byType(audit.EventCreateFailed), 1)

	// The endpoint is immediately reusable.
	fx.runner.bindErr = nil
	fx.create(t, 104)
}

func TestResolutionFailureDisposesScope(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.kinds.RegisterService(server.ServiceKindInfo{
		Kind: "needy",
		New: func(d *missingDep) interfaces.ProtocolService {
			return fakeService{}
		},
	}))

	_, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "needy",
		Port:    104,
	})
	require.Error(t, err)

	var resErr *interfaces.DependencyResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.NotEmpty(t, resErr.Scope)

	assert.Equal(t, 0, fx.registry.Len())
	scopes := fx.scopes.all()
	require.Len(t, scopes, 1)
	assert.Equal(t, int32(1), scopes[0].closes.Load())
}

func TestRegistrationRaceLossUnwinds(t *testing.T) {
	log := testLogger()
	runner := &fakeRunner{}
	ks := server.NewKindSet()
	require.NoError(t, ks.RegisterService(server.ServiceKindInfo{
		Kind: "fake",
		New:  func() interfaces.ProtocolService { return fakeService{} },
	}))
	require.NoError(t, ks.RegisterServer(server.ServerKindInfo{
		Kind: interfaces.DefaultServerKind,
		New:  func() interfaces.ServerRunner { return runner },
	}))

	mockReg := new(registry.MockRegistry)
	mockReg.On("Available", mock.Anything).Return(true)
	mockReg.On("Register", mock.Anything, mock.Anything).
		Return((*interfaces.ServerRegistration)(nil), fmt.Errorf("%w: lost the race", interfaces.ErrPortInUse))

	scopes := &trackingProvider{inner: scope.NewProvider(log)}
	factory, err := server.New(server.FactoryConfig{
		Registry: mockReg,
		Scopes:   scopes,
		Kinds:    ks,
		Log:      log,
	})
	require.NoError(t, err)

	_, err = factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    104,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrPortInUse)

	// The started loop was stopped and the scope disposed.
	task := runner.lastTask()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned task was not stopped")
	}
	tracked := scopes.all()
	require.Len(t, tracked, 1)
	assert.Equal(t, int32(1), tracked[0].closes.Load())
	mockReg.AssertExpectations(t)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	fx := newFixture(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.factory.Create(context.Background(), server.CreateRequest{
				Service: "fake",
				Port:    104,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, interfaces.ErrPortInUse)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, fx.registry.Len())
}

func TestCreateDefaultOptionsSnapshot(t *testing.T) {
	fx := newFixture(t)

	opts := interfaces.DefaultServiceOptions()
	opts.MaxSessions = 7

	inst, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service: "fake",
		Port:    104,
		Options: &opts,
	})
	require.NoError(t, err)

	// Later mutation of the caller's struct must not reach the server.
	opts.MaxSessions = 99
	assert.Equal(t, 7, inst.Options().MaxSessions)
	assert.Equal(t, 7, fx.runner.lastBinding().Options.MaxSessions)
}

func TestCreateUserStateDelivered(t *testing.T) {
	fx := newFixture(t)

	type state struct{ motd string }
	st := &state{motd: "hello"}

	inst, err := fx.factory.Create(context.Background(), server.CreateRequest{
		Service:   "fake",
		Port:      104,
		UserState: st,
	})
	require.NoError(t, err)

	assert.Same(t, st, inst.UserState())
	assert.Same(t, st, fx.runner.lastBinding().UserState)
}

func TestFactoryStopAll(t *testing.T) {
	fx := newFixture(t)

	a := fx.create(t, 104)
	b := fx.create(t, 105)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.factory.StopAll(ctx))

	assert.Equal(t, interfaces.StateStopped, a.State())
	assert.Equal(t, interfaces.StateStopped, b.State())
	assert.Equal(t, 0, fx.registry.Len())
}

func TestFactoryStopByID(t *testing.T) {
	fx := newFixture(t)

	inst := fx.create(t, 104)
	reg, ok := fx.registry.Lookup(inst.Endpoint())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.factory.Stop(ctx, reg.ID))

	assert.Equal(t, interfaces.StateStopped, inst.State())
	assert.ErrorIs(t, fx.factory.Stop(ctx, reg.ID), interfaces.ErrRegistrationNotFound)
}
