package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Registry is the in-process endpoint table enforcing listener exclusivity.
// A single mutex guards Available and Register as one unit, so the
// check-then-register sequence used during server creation observes a
// consistent winner: Register is an insert-if-absent and exactly one of any
// set of concurrent claims on an endpoint succeeds.
//
// The registry performs no I/O; it only mutates the shared table and issues
// registration handles.
type Registry struct {
	mu      sync.Mutex
	entries map[interfaces.Endpoint]*interfaces.ServerRegistration
	log     *slog.Logger
}

var _ interfaces.ServerRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[interfaces.Endpoint]*interfaces.ServerRegistration),
		log:     log,
	}
}

// Available reports whether no live registration holds the endpoint.
func (r *Registry) Available(ep interfaces.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, held := r.entries[ep]
	return !held
}

// Register claims the server's endpoint. It fails with an error wrapping
// interfaces.ErrPortInUse when another live registration already holds it,
// closing the race window left by an earlier Available check.
func (r *Registry) Register(server interfaces.ServerHandle, task interfaces.BackgroundTask) (*interfaces.ServerRegistration, error) {
	ep := server.Endpoint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, held := r.entries[ep]; held {
		return nil, fmt.Errorf("%w: %s held by registration %s", interfaces.ErrPortInUse, ep, existing.ID)
	}

	reg := &interfaces.ServerRegistration{
		ID:        uuid.Must(uuid.NewRandom()),
		Endpoint:  ep,
		Server:    server,
		Task:      task,
		CreatedAt: time.Now(),
	}
	r.entries[ep] = reg

	r.log.Debug("Registered server endpoint",
		slog.String("endpoint", ep.String()),
		slog.String("registrationID", reg.ID.String()),
		slog.String("service", server.ServiceKind().String()))

	return reg, nil
}

// Unregister removes the registration if it is still the endpoint's current
// holder. Idempotent: a second call, or a call after a successor has claimed
// the endpoint, is a no-op and returns false.
func (r *Registry) Unregister(reg *interfaces.ServerRegistration) bool {
	if reg == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, held := r.entries[reg.Endpoint]
	if !held || current != reg {
		return false
	}
	delete(r.entries, reg.Endpoint)

	r.log.Debug("Unregistered server endpoint",
		slog.String("endpoint", reg.Endpoint.String()),
		slog.String("registrationID", reg.ID.String()))

	return true
}

// Lookup returns the live registration for an endpoint.
func (r *Registry) Lookup(ep interfaces.Endpoint) (*interfaces.ServerRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, held := r.entries[ep]
	return reg, held
}

// Get returns the live registration whose registration or server id matches.
func (r *Registry) Get(id uuid.UUID) (*interfaces.ServerRegistration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.entries {
		if reg.ID == id || reg.Server.ID() == id {
			return reg, true
		}
	}
	return nil, false
}

// List returns a snapshot of all live registrations ordered by creation
// time.
func (r *Registry) List() []*interfaces.ServerRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := make([]*interfaces.ServerRegistration, 0, len(r.entries))
	for _, reg := range r.entries {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].ID.String() < regs[j].ID.String()
		}
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
	return regs
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
