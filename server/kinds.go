package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harborgrid/harbormaster/interfaces"
)

// ServiceKindInfo registers a protocol service implementation under a kind
// name.
type ServiceKindInfo struct {
	// Kind is the name creation requests use to select this service.
	Kind interfaces.ServiceKind

	// New is a dig constructor resolved inside the server's dependency
	// scope. Its return types must include interfaces.ProtocolService;
	// its parameters may name anything provided to the scope, including
	// *slog.Logger, interfaces.ServiceOptions and interfaces.Endpoint.
	New any
}

// ServerKindInfo registers a server runner implementation under a kind name.
type ServerKindInfo struct {
	// Kind is the name creation requests use to select this runner. The
	// default runner registers as interfaces.DefaultServerKind.
	Kind interfaces.ServerKind

	// Hosts lists the service kinds this runner can host. Empty means
	// any.
	Hosts []interfaces.ServiceKind

	// New is a dig constructor resolved inside the server's dependency
	// scope. Its return types must include interfaces.ServerRunner.
	New any
}

// CanHost reports whether the runner declares the service kind hostable.
func (info ServerKindInfo) CanHost(kind interfaces.ServiceKind) bool {
	if len(info.Hosts) == 0 {
		return true
	}
	for _, hosted := range info.Hosts {
		if hosted == kind {
			return true
		}
	}
	return false
}

// KindSet holds the registered service and server kinds a factory can
// construct. One set is built at wiring time and shared read-mostly.
type KindSet struct {
	mu       sync.RWMutex
	services map[interfaces.ServiceKind]ServiceKindInfo
	servers  map[interfaces.ServerKind]ServerKindInfo
}

// NewKindSet creates an empty kind set.
func NewKindSet() *KindSet {
	return &KindSet{
		services: make(map[interfaces.ServiceKind]ServiceKindInfo),
		servers:  make(map[interfaces.ServerKind]ServerKindInfo),
	}
}

// RegisterService adds a service kind. Registering a duplicate or an
// incomplete info is an error.
func (k *KindSet) RegisterService(info ServiceKindInfo) error {
	if info.Kind == "" || info.New == nil {
		return fmt.Errorf("service kind info incomplete: kind=%q", info.Kind)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.services[info.Kind]; exists {
		return fmt.Errorf("service kind %q already registered", info.Kind)
	}
	k.services[info.Kind] = info
	return nil
}

// RegisterServer adds a server kind. Registering a duplicate or an
// incomplete info is an error.
func (k *KindSet) RegisterServer(info ServerKindInfo) error {
	if info.Kind == "" || info.New == nil {
		return fmt.Errorf("server kind info incomplete: kind=%q", info.Kind)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.servers[info.Kind]; exists {
		return fmt.Errorf("server kind %q already registered", info.Kind)
	}
	k.servers[info.Kind] = info
	return nil
}

// MustRegisterService is RegisterService that panics on error, for wiring
// code.
func (k *KindSet) MustRegisterService(info ServiceKindInfo) {
	if err := k.RegisterService(info); err != nil {
		panic(err)
	}
}

// MustRegisterServer is RegisterServer that panics on error, for wiring
// code.
func (k *KindSet) MustRegisterServer(info ServerKindInfo) {
	if err := k.RegisterServer(info); err != nil {
		panic(err)
	}
}

// Service returns the info registered under a service kind.
func (k *KindSet) Service(kind interfaces.ServiceKind) (ServiceKindInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	info, exists := k.services[kind]
	if !exists {
		return ServiceKindInfo{}, fmt.Errorf("%w: %q", interfaces.ErrUnknownServiceKind, kind)
	}
	return info, nil
}

// Server returns the info registered under a server kind.
func (k *KindSet) Server(kind interfaces.ServerKind) (ServerKindInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	info, exists := k.servers[kind]
	if !exists {
		return ServerKindInfo{}, fmt.Errorf("%w: %q", interfaces.ErrUnknownServerKind, kind)
	}
	return info, nil
}

// ServiceKinds returns the registered service kind names, sorted.
func (k *KindSet) ServiceKinds() []interfaces.ServiceKind {
	k.mu.RLock()
	defer k.mu.RUnlock()

	kinds := make([]interfaces.ServiceKind, 0, len(k.services))
	for kind := range k.services {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ServerKinds returns the registered server kind names, sorted.
func (k *KindSet) ServerKinds() []interfaces.ServerKind {
	k.mu.RLock()
	defer k.mu.RUnlock()

	kinds := make([]interfaces.ServerKind, 0, len(k.servers))
	for kind := range k.servers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
