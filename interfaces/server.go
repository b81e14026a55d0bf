package interfaces

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// SessionEnv is the per-connection environment a runner hands to the protocol
// service when constructing a session. Options is the owning server's
// snapshot, passed by value so a session cannot mutate its server.
type SessionEnv struct {
	// Endpoint the owning server listens on.
	Endpoint Endpoint

	// RemoteAddr of the accepted connection.
	RemoteAddr net.Addr

	// Encoding is the fallback text encoding for the session.
	Encoding Encoding

	// Options is a copy of the owning server's options snapshot.
	Options ServiceOptions

	// UserState is the opaque state supplied at creation time, shared by
	// all sessions of one server.
	UserState any

	// Log is the owning server's logger.
	Log *slog.Logger
}

// Session handles one accepted connection until it completes or the context
// is cancelled. Serve owns the connection and must close it before returning.
type Session interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// ProtocolService is the capability a service kind constructor must produce:
// a per-server service object that turns accepted connections into protocol
// sessions. One ProtocolService is resolved per server, inside that server's
// dependency scope; NewSession is called once per accepted connection.
type ProtocolService interface {
	// Kind reports the service kind this object implements.
	Kind() ServiceKind

	// NewSession constructs a session for an accepted connection.
	NewSession(env SessionEnv) (Session, error)
}

// Binding is the fully resolved listening assignment handed to a server
// runner's Start call.
type Binding struct {
	// Endpoint to bind.
	Endpoint Endpoint

	// TLS wraps the listener when non-nil.
	TLS *tls.Config

	// Encoding is the fallback text encoding for sessions.
	Encoding Encoding

	// Options is the owning instance's snapshot.
	Options ServiceOptions

	// UserState is the opaque creation-time state.
	UserState any

	// Service produces protocol sessions for accepted connections.
	Service ProtocolService

	// Log is the owning instance's logger.
	Log *slog.Logger
}

// BackgroundTask is the handle for a server's accept loop running as an
// independent background job.
type BackgroundTask interface {
	// RequestStop signals the task to terminate. It does not wait;
	// callers observe completion through Done or Wait. Safe to call more
	// than once.
	RequestStop()

	// Done is closed once the task has fully exited and all of its
	// sessions have drained.
	Done() <-chan struct{}

	// Err reports the terminal error after Done is closed. Nil means the
	// task exited because it was asked to stop.
	Err() error

	// Wait blocks until the task exits or the context is cancelled.
	Wait(ctx context.Context) error
}

// ServerRunner is the accept-loop capability a server kind constructor must
// produce. Start binds the endpoint synchronously and returns promptly once
// listening; accept processing continues in the returned background task
// until stopped or fatally failed. A bind failure is reported as an error
// wrapping ErrBindFailed with no task started.
type ServerRunner interface {
	Start(ctx context.Context, binding Binding) (BackgroundTask, error)
}

// ServerHandle is the read surface a registry holds for a running server.
type ServerHandle interface {
	// ID is the unique instance identifier.
	ID() uuid.UUID

	// Endpoint the server was created for.
	Endpoint() Endpoint

	// ServiceKind the server hosts.
	ServiceKind() ServiceKind

	// State reports the current lifecycle state.
	State() ServerState
}

// ServerRegistration records that an endpoint is currently bound by a
// specific running server. Owned by the registry that issued it; the server
// instance keeps it only as a back-reference for later unregistration.
type ServerRegistration struct {
	// ID identifies this registration.
	ID uuid.UUID

	// Endpoint is the exclusivity key.
	Endpoint Endpoint

	// Server is the registered instance.
	Server ServerHandle

	// Task is the instance's accept-loop handle.
	Task BackgroundTask

	// CreatedAt is the registration time.
	CreatedAt time.Time
}

// ServerRegistry is the process-wide table mapping endpoints to live
// registrations. Register is an atomic insert-if-absent under the same lock
// that serves Available, so a check-then-register sequence observes a
// consistent winner under concurrent creation.
type ServerRegistry interface {
	// Available reports whether no live registration holds the endpoint.
	Available(ep Endpoint) bool

	// Register claims the endpoint for the server. Returns an error
	// wrapping ErrPortInUse when a live registration already holds it.
	Register(server ServerHandle, task BackgroundTask) (*ServerRegistration, error)

	// Unregister removes the registration if it is still the endpoint's
	// current holder. Idempotent: removing an absent or superseded
	// registration is a no-op and returns false.
	Unregister(reg *ServerRegistration) bool

	// Lookup returns the live registration for an endpoint.
	Lookup(ep Endpoint) (*ServerRegistration, bool)

	// Get returns the live registration with the given id.
	Get(id uuid.UUID) (*ServerRegistration, bool)

	// List returns a snapshot of all live registrations ordered by
	// creation time.
	List() []*ServerRegistration

	// Len reports the number of live registrations.
	Len() int
}

// CertificateSource resolves a certificate reference URI to a server TLS
// configuration.
type CertificateSource interface {
	// CertificateFor resolves a reference such as file://, vault:// or
	// selfsigned://. Returns an error wrapping ErrInvalidCertificateRef
	// for malformed references or unsupported schemes.
	CertificateFor(ctx context.Context, ref string) (*tls.Config, error)
}
