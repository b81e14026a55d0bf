// Package interfaces defines core interfaces and types for the harbormaster
// server-provisioning system, separating interface definitions from
// implementations.
//
// The package provides the contracts between the key components:
//
// # Lifecycle Interfaces
//
// ServerRegistry: Process-wide endpoint table enforcing that at most one live
// server holds an (address, port) pair. Register is an atomic
// insert-if-absent; Unregister is idempotent.
//
// ScopeProvider and DependencyScope: Isolated per-server dependency
// construction contexts. A scope is owned by exactly one server instance and
// is disposed exactly once, after the server's accept loop has exited.
//
// ServerRunner and BackgroundTask: The accept-loop capability. Start binds
// synchronously and hands back a cancellable task handle; the accept loop
// runs until stopped or fatally failed.
//
// ProtocolService and Session: The protocol capability. A service kind
// constructor produces one ProtocolService per server inside its scope, and
// the runner asks it for a Session per accepted connection.
//
// # Value Types
//
// - Endpoint: comparable (address, port) identity key
// - ServiceKind, ServerKind: names for registered constructors
// - ServiceOptions: per-server tunables snapshot with documented defaults
// - ServerRegistration: the registry's record of a bound endpoint
// - Encoding: fallback session text encoding
// - ServerState: Created, Starting, Running, Stopping, Stopped
//
// # Errors
//
// Sentinel errors cover the failure taxonomy: ErrPortInUse (endpoint held,
// recoverable), ErrBindFailed (OS-level listen failure, registry untouched),
// ErrInvalidArgument and its specializations (rejected before side effects),
// and DependencyResolutionError (provider wiring broken, not retryable).
package interfaces
