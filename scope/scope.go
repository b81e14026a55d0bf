package scope

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/dig"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Scope is one isolated construction context. It wraps a dig scope and adds
// the lifetime semantics dig does not have: cleanups registered with OnClose
// run in reverse order on the first Close call, and every later operation
// fails with interfaces.ErrScopeClosed.
type Scope struct {
	name  string
	scope *dig.Scope
	log   *slog.Logger

	mu       sync.Mutex
	cleanups []func() error
	closed   atomic.Bool
}

var _ interfaces.DependencyScope = (*Scope)(nil)

// Name returns the scope's unique name, as recorded in resolution errors.
func (s *Scope) Name() string {
	return s.name
}

// Provide installs a constructor private to this scope.
func (s *Scope) Provide(constructor any) error {
	if s.closed.Load() {
		return interfaces.ErrScopeClosed
	}

	if err := s.scope.Provide(constructor); err != nil {
		return fmt.Errorf("providing scoped constructor: %w", err)
	}
	return nil
}

// Resolve invokes fn with arguments constructed from the scope. Failures are
// reported as a *interfaces.DependencyResolutionError carrying the scope
// name and dig's root cause.
func (s *Scope) Resolve(fn any) error {
	if s.closed.Load() {
		return interfaces.ErrScopeClosed
	}

	if err := s.scope.Invoke(fn); err != nil {
		return &interfaces.DependencyResolutionError{
			Scope: s.name,
			Err:   dig.RootCause(err),
		}
	}
	return nil
}

// OnClose registers a cleanup to run when the scope closes. Cleanups run in
// reverse registration order. Registering on a closed scope runs nothing and
// is logged as a bug.
func (s *Scope) OnClose(cleanup func() error) {
	if s.closed.Load() {
		s.log.Warn("Cleanup registered on closed scope")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup)
}

// Close disposes the scope, running all cleanups LIFO. The first call wins;
// later calls return interfaces.ErrScopeClosed.
func (s *Scope) Close() error {
	if s.closed.Swap(true) {
		return interfaces.ErrScopeClosed
	}

	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.log.Error("Scope cleanup failed", "err", err)
		return err
	}

	s.log.Debug("Disposed dependency scope")
	return nil
}
