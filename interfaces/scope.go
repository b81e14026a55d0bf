package interfaces

import "fmt"

// DependencyScope is an isolated construction context bounding the lifetime
// of dependencies resolved for one server instance. The instance is the sole
// owner and closes the scope exactly once, after its accept loop has fully
// exited.
type DependencyScope interface {
	// Name returns the scope's unique name, as recorded in resolution
	// errors.
	Name() string

	// Provide installs a constructor private to this scope. The
	// constructor's return types become resolvable within the scope.
	Provide(constructor any) error

	// Resolve invokes fn with its arguments constructed from the scope.
	// A missing or failing dependency is reported as a
	// *DependencyResolutionError.
	Resolve(fn any) error

	// OnClose registers a cleanup to run when the scope closes. Cleanups
	// run in reverse registration order.
	OnClose(cleanup func() error)

	// Close disposes the scope and runs all cleanups. The first call
	// wins; later calls return ErrScopeClosed.
	Close() error
}

// ScopeProvider creates dependency scopes. NewScope always succeeds;
// resolution failures surface later, from DependencyScope.Resolve.
type ScopeProvider interface {
	NewScope() DependencyScope
}

// DependencyResolutionError reports that a required dependency could not be
// constructed within a scope. Configuration-level: not retryable without
// fixing the provider wiring.
type DependencyResolutionError struct {
	// Scope is the name of the scope the resolution ran in.
	Scope string

	// Err is the resolver's root cause.
	Err error
}

// Error describes the failed resolution.
func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("dependency resolution failed in scope %s: %v", e.Scope, e.Err)
}

// Unwrap exposes the resolver's root cause.
func (e *DependencyResolutionError) Unwrap() error {
	return e.Err
}
