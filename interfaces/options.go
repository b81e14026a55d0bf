package interfaces

import "time"

// ServiceOptions carries the per-server tunables handed to the runner and to
// every session it spawns. The factory clones its configured defaults for each
// created server, so changing the defaults later never reaches a running
// instance. The clone is owned by that instance and never mutated after
// creation.
type ServiceOptions struct {
	// MaxSessions caps concurrently served connections per server.
	// Connections beyond the cap are closed on accept. Default: 128.
	MaxSessions int

	// IdleTimeout closes a session when no data arrives for this long.
	// Zero disables the idle check. Default: 2 minutes.
	IdleTimeout time.Duration

	// ReadTimeout bounds a single read from the peer. Zero means no
	// deadline. Default: 0.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write to the peer. Zero means no
	// deadline. Default: 30 seconds.
	WriteTimeout time.Duration

	// MaxLineBytes caps a single protocol line or frame for line-oriented
	// services. Default: 1 MiB.
	MaxLineBytes int

	// TCPNoDelay disables Nagle's algorithm on accepted connections.
	// Default: true.
	TCPNoDelay bool

	// LogSessions emits a debug log line on every session open and close.
	// Default: false.
	LogSessions bool
}

// DefaultServiceOptions returns the documented defaults.
func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		MaxSessions:  128,
		IdleTimeout:  2 * time.Minute,
		ReadTimeout:  0,
		WriteTimeout: 30 * time.Second,
		MaxLineBytes: 1 << 20,
		TCPNoDelay:   true,
		LogSessions:  false,
	}
}

// Clone returns an independent copy.
func (o ServiceOptions) Clone() ServiceOptions {
	clone := o
	return clone
}
