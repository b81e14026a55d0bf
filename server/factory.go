package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/harbormaster/audit"
	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/metrics"
)

// unwindTimeout bounds the accept-loop stop await when a creation is unwound
// after losing the registration race.
const unwindTimeout = 30 * time.Second

// FactoryConfig carries the collaborators a Factory orchestrates.
type FactoryConfig struct {
	// Registry enforces endpoint exclusivity. Required.
	Registry interfaces.ServerRegistry

	// Scopes creates one dependency scope per server. Required.
	Scopes interfaces.ScopeProvider

	// Kinds holds the registered service and server kinds. Required.
	Kinds *KindSet

	// Certificates resolves certificate references for TLS listeners.
	// Optional; creation requests naming a certificate fail without it.
	Certificates interfaces.CertificateSource

	// Audit receives lifecycle events. Optional.
	Audit audit.Sink

	// Announcer publishes provisioned endpoints to discovery. Optional.
	Announcer Announcer

	// Metrics records creation and lifecycle counters. Optional.
	Metrics *metrics.Metrics

	// DefaultOptions is the process-wide options template cloned for each
	// created server. Nil selects interfaces.DefaultServiceOptions.
	DefaultOptions *interfaces.ServiceOptions

	// Log is the factory's structured logger and the default logger for
	// created servers. Required.
	Log *slog.Logger
}

// Factory is the only entry point that produces a running server. It owns
// the creation ordering contract: exclusivity check, scope acquisition,
// in-scope resolution, accept-loop start, registration, unwinding every
// partial side effect when a later step fails.
type Factory struct {
	registry  interfaces.ServerRegistry
	scopes    interfaces.ScopeProvider
	kinds     *KindSet
	certs     interfaces.CertificateSource
	audit     audit.Sink
	announcer Announcer
	metrics   *metrics.Metrics
	defaults  interfaces.ServiceOptions
	log       *slog.Logger
}

// New creates a factory from its configuration.
func New(cfg FactoryConfig) (*Factory, error) {
	if cfg.Registry == nil {
		return nil, errors.New("factory config missing registry")
	}
	if cfg.Scopes == nil {
		return nil, errors.New("factory config missing scope provider")
	}
	if cfg.Kinds == nil {
		return nil, errors.New("factory config missing kind set")
	}
	if cfg.Log == nil {
		return nil, errors.New("factory config missing logger")
	}

	defaults := interfaces.DefaultServiceOptions()
	if cfg.DefaultOptions != nil {
		defaults = cfg.DefaultOptions.Clone()
	}

	return &Factory{
		registry:  cfg.Registry,
		scopes:    cfg.Scopes,
		kinds:     cfg.Kinds,
		certs:     cfg.Certificates,
		audit:     cfg.Audit,
		announcer: cfg.Announcer,
		metrics:   cfg.Metrics,
		defaults:  defaults,
		log:       cfg.Log,
	}, nil
}

// Kinds returns the factory's kind set.
func (f *Factory) Kinds() *KindSet { return f.kinds }

// DefaultOptions returns a copy of the factory's options template.
func (f *Factory) DefaultOptions() interfaces.ServiceOptions { return f.defaults.Clone() }

// CreateRequest describes one server to provision.
type CreateRequest struct {
	// Service selects the registered protocol service kind. Required.
	Service interfaces.ServiceKind

	// Server selects the registered runner kind. Empty selects
	// interfaces.DefaultServerKind, a plain TCP accept loop.
	Server interfaces.ServerKind

	// Address to bind. Empty means all interfaces.
	Address string

	// Port to bind, 0 through 65535.
	Port int

	// Certificate is a certificate reference URI (file://, vault://,
	// selfsigned://). Empty provisions a plaintext listener.
	Certificate string

	// Encoding is the fallback session text encoding. Empty selects
	// UTF-8.
	Encoding interfaces.Encoding

	// Options overrides the factory's defaults for this server. Nil
	// clones the defaults; either way the server owns an independent
	// snapshot.
	Options *interfaces.ServiceOptions

	// UserState is opaque state handed to every session of this server.
	UserState any

	// Log overrides the instance's default logger.
	Log *slog.Logger
}

// Create provisions a running server or returns an error with every partial
// side effect unwound. On success exactly one live registration exists for
// the endpoint, owned by the returned instance, and the accept loop is
// running.
//
// Failure taxonomy: errors wrapping interfaces.ErrInvalidArgument are
// rejected before any side effect; interfaces.ErrPortInUse reports a held
// endpoint (recoverable); *interfaces.DependencyResolutionError reports
// broken provider wiring; errors wrapping interfaces.ErrBindFailed report
// OS-level listen failures with the registry left untouched.
func (f *Factory) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	inst, err := f.create(ctx, req)
	if err != nil {
		f.metrics.RecordCreateFailure(failureReason(err))
		f.recordCreateFailure(ctx, req, err)
		return nil, err
	}

	f.metrics.RecordServerCreated(inst.service.String())
	f.recordCreated(ctx, inst)
	f.announce(ctx, inst)

	return inst, nil
}

func (f *Factory) create(ctx context.Context, req CreateRequest) (*Instance, error) {
	ep, err := interfaces.NewEndpoint(req.Address, req.Port)
	if err != nil {
		return nil, err
	}

	svcInfo, err := f.kinds.Service(req.Service)
	if err != nil {
		return nil, err
	}

	serverKind := req.Server
	if serverKind == "" {
		serverKind = interfaces.DefaultServerKind
	}
	srvInfo, err := f.kinds.Server(serverKind)
	if err != nil {
		return nil, err
	}

	if !srvInfo.CanHost(req.Service) {
		return nil, fmt.Errorf("%w: %q cannot host %q", interfaces.ErrIncompatibleKinds, serverKind, req.Service)
	}

	encoding, err := interfaces.NewEncoding(string(req.Encoding))
	if err != nil {
		return nil, err
	}

	var tlsCfg *tls.Config
	if req.Certificate != "" {
		if f.certs == nil {
			return nil, fmt.Errorf("%w: no certificate source configured", interfaces.ErrInvalidCertificateRef)
		}
		tlsCfg, err = f.certs.CertificateFor(ctx, req.Certificate)
		if err != nil {
			return nil, err
		}
	}

	// Fail fast before any construction work. Register below closes the
	// remaining race window under the registry's lock.
	if !f.registry.Available(ep) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPortInUse, ep)
	}

	log := req.Log
	if log == nil {
		log = f.log
	}
	log = log.With(
		slog.String("service", req.Service.String()),
		slog.String("endpoint", ep.String()))

	options := f.defaults.Clone()
	if req.Options != nil {
		options = req.Options.Clone()
	}

	sc := f.scopes.NewScope()

	svc, runner, err := f.resolveInScope(sc, svcInfo, srvInfo, ep, options, log)
	if err != nil {
		f.disposeScope(sc, log)
		return nil, err
	}

	inst := newInstance(ep, req.Service, serverKind, encoding, options, req.UserState, log, sc, lifecycleHooks{
		registry:  f.registry,
		audit:     f.audit,
		announcer: f.announcer,
		metrics:   f.metrics,
	})

	binding := interfaces.Binding{
		Endpoint:  ep,
		TLS:       tlsCfg,
		Encoding:  encoding,
		Options:   options,
		UserState: req.UserState,
		Service:   svc,
		Log:       log,
	}

	inst.markStarting(nil)
	task, err := runner.Start(ctx, binding)
	if err != nil {
		inst.abort(err)
		return nil, err
	}
	inst.markStarting(task)

	reg, err := f.registry.Register(inst, task)
	if err != nil {
		f.stopAbandonedTask(task, log)
		inst.abort(err)
		return nil, err
	}

	inst.completeStart(reg)
	log.Info("Server running", slog.String("serverID", inst.id.String()))

	return inst, nil
}

// Stop stops the server holding the given registration or server id and
// awaits its full teardown.
func (f *Factory) Stop(ctx context.Context, id uuid.UUID) error {
	reg, ok := f.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrRegistrationNotFound, id)
	}
	return f.stopRegistered(ctx, reg)
}

// StopAll stops every registered server, awaiting teardown of each.
func (f *Factory) StopAll(ctx context.Context) error {
	var errs []error
	for _, reg := range f.registry.List() {
		if err := f.stopRegistered(ctx, reg); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", reg.Endpoint, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Factory) stopRegistered(ctx context.Context, reg *interfaces.ServerRegistration) error {
	if inst, ok := reg.Server.(*Instance); ok {
		return inst.Stop(ctx)
	}

	// Foreign handle: signal its task and await exit; the handle owns the
	// rest of its teardown.
	reg.Task.RequestStop()
	return reg.Task.Wait(ctx)
}

// resolveInScope seeds the scope with the per-server values and the selected
// kind constructors, then resolves the protocol service and runner.
func (f *Factory) resolveInScope(sc interfaces.DependencyScope, svcInfo ServiceKindInfo, srvInfo ServerKindInfo, ep interfaces.Endpoint, options interfaces.ServiceOptions, log *slog.Logger) (interfaces.ProtocolService, interfaces.ServerRunner, error) {
	seeds := []any{
		func() *slog.Logger { return log },
		func() interfaces.Endpoint { return ep },
		func() interfaces.ServiceOptions { return options },
	}
	for _, ctor := range seeds {
		if err := sc.Provide(ctor); err != nil {
			return nil, nil, &interfaces.DependencyResolutionError{Scope: sc.Name(), Err: err}
		}
	}

	if err := sc.Provide(svcInfo.New); err != nil {
		return nil, nil, &interfaces.DependencyResolutionError{Scope: sc.Name(), Err: err}
	}
	if err := sc.Provide(srvInfo.New); err != nil {
		return nil, nil, &interfaces.DependencyResolutionError{Scope: sc.Name(), Err: err}
	}

	var svc interfaces.ProtocolService
	var runner interfaces.ServerRunner
	if err := sc.Resolve(func(s interfaces.ProtocolService, r interfaces.ServerRunner) {
		svc = s
		runner = r
	}); err != nil {
		return nil, nil, err
	}

	if svc.Kind() != svcInfo.Kind {
		return nil, nil, &interfaces.DependencyResolutionError{
			Scope: sc.Name(),
			Err:   fmt.Errorf("constructor registered for kind %q produced kind %q", svcInfo.Kind, svc.Kind()),
		}
	}

	return svc, runner, nil
}

func (f *Factory) stopAbandonedTask(task interfaces.BackgroundTask, log *slog.Logger) {
	task.RequestStop()

	ctx, cancel := context.WithTimeout(context.Background(), unwindTimeout)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		log.Error("Abandoned accept loop did not stop in time", "err", err)
	}
}

func (f *Factory) disposeScope(sc interfaces.DependencyScope, log *slog.Logger) {
	if err := sc.Close(); err != nil && !errors.Is(err, interfaces.ErrScopeClosed) {
		log.Warn("Scope disposal failed", "err", err)
	}
}

func (f *Factory) recordCreated(ctx context.Context, inst *Instance) {
	if f.audit == nil {
		return
	}
	ev := audit.Event{
		Time:     time.Now(),
		Event:    audit.EventServerCreated,
		ServerID: inst.id.String(),
		Endpoint: inst.endpoint.String(),
		Service:  inst.service.String(),
	}
	if err := f.audit.Record(ctx, ev); err != nil {
		f.log.Warn("Audit record failed", "err", err)
	}
}

func (f *Factory) recordCreateFailure(ctx context.Context, req CreateRequest, failure error) {
	if f.audit == nil {
		return
	}
	ev := audit.Event{
		Time:     time.Now(),
		Event:    audit.EventCreateFailed,
		Endpoint: interfaces.Endpoint{Address: req.Address, Port: req.Port}.String(),
		Service:  req.Service.String(),
		Detail:   failure.Error(),
	}
	if err := f.audit.Record(ctx, ev); err != nil {
		f.log.Warn("Audit record failed", "err", err)
	}
}

func (f *Factory) announce(ctx context.Context, inst *Instance) {
	if f.announcer == nil {
		return
	}
	if err := f.announcer.Announce(ctx, inst.service, inst.endpoint); err != nil {
		inst.log.Warn("Discovery announcement failed", "err", err)
	}
}

// failureReason maps a creation error to its metrics and audit label.
func failureReason(err error) string {
	var resErr *interfaces.DependencyResolutionError
	switch {
	case errors.Is(err, interfaces.ErrPortInUse):
		return "port_in_use"
	case errors.Is(err, interfaces.ErrBindFailed):
		return "bind_failed"
	case errors.As(err, &resErr):
		return "dependency_resolution"
	case errors.Is(err, interfaces.ErrInvalidCertificateRef):
		return "certificate"
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "other"
	}
}
