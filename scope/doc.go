// Package scope provides per-server dependency scopes backed by go.uber.org/dig.
//
// A Provider wraps one root dig container. Constructors installed through
// Provider.Provide (logger, metrics, shared clients) are visible to every
// scope; constructors installed through Scope.Provide (the service and
// runner of one server) stay private to that scope. This is what keeps
// per-server state, caches and counters from leaking between independently
// created servers.
//
// dig has no notion of disposing a scope, so Scope adds it: OnClose collects
// cleanups and the first Close runs them in reverse registration order,
// exactly once. The server instance owning the scope triggers Close after
// its accept loop has fully exited, which guarantees no in-flight session
// can observe a released dependency.
package scope
