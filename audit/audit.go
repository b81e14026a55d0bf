package audit

import (
	"context"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	// EventServerCreated is recorded when a server is registered and
	// running.
	EventServerCreated EventType = "server_created"

	// EventCreateFailed is recorded when a creation request fails at any
	// step; Detail carries the failure reason.
	EventCreateFailed EventType = "server_create_failed"

	// EventServerStopped is recorded when a server stops after an
	// explicit request.
	EventServerStopped EventType = "server_stopped"

	// EventServerFailed is recorded when a server's accept loop
	// terminates on its own with an error.
	EventServerFailed EventType = "server_failed"
)

// Event is one lifecycle record, serialized as a JSON line by file-backed
// sinks.
type Event struct {
	Time     time.Time `json:"time"`
	Event    EventType `json:"event"`
	ServerID string    `json:"server_id,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Service  string    `json:"service,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Sink persists lifecycle events.
type Sink interface {
	// Record writes one event. Implementations may buffer; Record must
	// not block on slow storage longer than the context allows.
	Record(ctx context.Context, ev Event) error

	// Name returns identifier for logging.
	Name() string

	// Close flushes buffered events and releases resources.
	Close() error
}
