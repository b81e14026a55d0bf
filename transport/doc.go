// Package transport provides the standard TCP accept-loop runner backing
// the "tcp" server kind.
//
// The runner binds synchronously inside Start so bind failures surface as
// immediate errors, then accepts in the background. Each connection is
// served by a fresh session obtained from the binding's protocol service,
// bounded by the options' session limit. Stopping closes the listener,
// cancels the session context and waits for every session to return before
// the task reports done.
package transport
