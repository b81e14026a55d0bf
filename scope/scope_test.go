package scope

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/harbormaster/interfaces"
)

type widget struct {
	name string
}

type gadget struct {
	w *widget
}

func testProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveScopedConstructor(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	require.NoError(t, s.Provide(func() *widget { return &widget{name: "scoped"} }))
	require.NoError(t, s.Provide(func(w *widget) *gadget { return &gadget{w: w} }))

	var got *gadget
	require.NoError(t, s.Resolve(func(g *gadget) { got = g }))
	require.NotNil(t, got)
	assert.Equal(t, "scoped", got.w.name)
}

func TestSharedConstructorVisibleInScopes(t *testing.T) {
	p := testProvider(t)
	require.NoError(t, p.Provide(func() *widget { return &widget{name: "shared"} }))

	s := p.NewScope()
	var got *widget
	require.NoError(t, s.Resolve(func(w *widget) { got = w }))
	assert.Equal(t, "shared", got.name)
}

func TestScopeIsolation(t *testing.T) {
	p := testProvider(t)

	a := p.NewScope()
	b := p.NewScope()

	require.NoError(t, a.Provide(func() *widget { return &widget{name: "a-only"} }))

	// The sibling scope must not see a's constructor.
	err := b.Resolve(func(w *widget) {})
	require.Error(t, err)

	var resErr *interfaces.DependencyResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.NotEmpty(t, resErr.Scope)
}

func TestResolveFailure(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	err := s.Resolve(func(w *widget) {})
	require.Error(t, err)

	var resErr *interfaces.DependencyResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Error(t, resErr.Unwrap())
}

func TestConstructorErrorSurfacesAsResolutionError(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	boom := errors.New("widget exploded")
	require.NoError(t, s.Provide(func() (*widget, error) { return nil, boom }))

	err := s.Resolve(func(w *widget) {})
	require.Error(t, err)

	var resErr *interfaces.DependencyResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Contains(t, resErr.Error(), "widget exploded")
}

func TestCloseRunsCleanupsInReverseOrder(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	var order []string
	s.OnClose(func() error { order = append(order, "first"); return nil })
	s.OnClose(func() error { order = append(order, "second"); return nil })

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestCloseExactlyOnce(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	calls := 0
	s.OnClose(func() error { calls++; return nil })

	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)

	err := s.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrScopeClosed))
	assert.Equal(t, 1, calls)
}

func TestClosedScopeRejectsOperations(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()
	require.NoError(t, s.Close())

	assert.True(t, errors.Is(s.Provide(func() *widget { return nil }), interfaces.ErrScopeClosed))
	assert.True(t, errors.Is(s.Resolve(func(w *widget) {}), interfaces.ErrScopeClosed))
}

func TestCloseAggregatesCleanupErrors(t *testing.T) {
	p := testProvider(t)
	s := p.NewScope()

	first := errors.New("release failed")
	s.OnClose(func() error { return first })
	s.OnClose(func() error { return nil })

	err := s.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, first))
}
