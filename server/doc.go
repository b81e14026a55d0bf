// Package server implements the provisioning core: the factory that turns a
// creation request into a running, registered server instance, the kind set
// that maps service and server kind names to their constructors, and the
// instance type tracking each server from creation to terminal teardown.
//
// # Creation Contract
//
// Factory.Create is the only path that produces a running server. It
// validates the request, fails fast on held endpoints, acquires a fresh
// dependency scope, resolves the protocol service and runner inside it,
// starts the accept loop, and registers the endpoint. A failure at any step
// unwinds everything the earlier steps built, so callers never observe a
// half-provisioned server: either Create returns a running instance holding
// a live registration, or it returns an error and no trace remains.
//
// # Teardown
//
// Every started instance runs a watchdog goroutine that waits for the accept
// loop to fully exit before releasing the registry entry, withdrawing the
// discovery announcement, and finally disposing the dependency scope.
// Stop-initiated and crash-initiated teardown share that one path.
//
// # Kind Registration
//
// Protocol services and server runners self-register into a KindSet from
// their package's Register function, typically at daemon startup. The
// constructors stored there are dependency-injection constructors: they are
// provided into the per-server scope and may consume the scope's seeded
// values (logger, endpoint, options) as well as any shared constructors.
package server
