package scope

import (
	"fmt"
	"log/slog"

	"go.uber.org/atomic"
	"go.uber.org/dig"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Provider creates isolated dependency scopes on top of a dig container.
// Constructors installed on the provider are shared by every scope;
// constructors installed on an individual scope stay private to it, so two
// independently created servers never share scoped state.
type Provider struct {
	container *dig.Container
	nextScope atomic.Uint64
	log       *slog.Logger
}

var _ interfaces.ScopeProvider = (*Provider)(nil)

// NewProvider creates a provider with an empty root container.
func NewProvider(log *slog.Logger) *Provider {
	return &Provider{
		container: dig.New(),
		log:       log,
	}
}

// Provide installs a shared constructor on the root container, visible to
// all scopes created afterwards.
func (p *Provider) Provide(constructor any) error {
	if err := p.container.Provide(constructor); err != nil {
		return fmt.Errorf("providing shared constructor: %w", err)
	}
	return nil
}

// NewScope creates a fresh dependency scope. It always succeeds; resolution
// failures surface later from Scope.Resolve.
func (p *Provider) NewScope() interfaces.DependencyScope {
	name := fmt.Sprintf("server-scope-%d", p.nextScope.Add(1))

	s := &Scope{
		name:  name,
		scope: p.container.Scope(name),
		log:   p.log.With(slog.String("scope", name)),
	}

	p.log.Debug("Created dependency scope", slog.String("scope", name))
	return s
}
