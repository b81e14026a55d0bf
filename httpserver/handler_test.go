package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/registry"
	"github.com/harborgrid/harbormaster/scope"
	"github.com/harborgrid/harbormaster/server"
	"github.com/harborgrid/harbormaster/services/echo"
	"github.com/harborgrid/harbormaster/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// unresolvedDep has no provider in any scope, so resolving a service that
// wants one fails.
type unresolvedDep struct{}

type testEnv struct {
	reg     *registry.Registry
	factory *server.Factory
	srv     *Server
	ts      *httptest.Server
}

func newTestEnv(t *testing.T, adminTokenHash string) *testEnv {
	t.Helper()
	log := testLogger()

	ks := server.NewKindSet()
	require.NoError(t, echo.Register(ks))
	require.NoError(t, transport.Register(ks))
	require.NoError(t, ks.RegisterService(server.ServiceKindInfo{
		Kind: "needy",
		New: func(d *unresolvedDep) interfaces.ProtocolService {
			return nil
		},
	}))

	reg := registry.NewRegistry(log)
	factory, err := server.New(server.FactoryConfig{
		Registry: reg,
		Scopes:   scope.NewProvider(log),
		Kinds:    ks,
		Log:      log,
	})
	require.NoError(t, err)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:     "127.0.0.1:0",
		AdminTokenHash: adminTokenHash,
		DrainDuration:  10 * time.Millisecond,
		Log:            log,
	}, NewHandler(factory, reg, log))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = factory.StopAll(ctx)
	})

	return &testEnv{reg: reg, factory: factory, srv: srv, ts: ts}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) createEcho(t *testing.T, port int) ServerInfo {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    port,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	return info
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var apiErr ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	return apiErr.Error
}

func TestListServersEmpty(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.request(t, http.MethodGet, "/api/v1/servers", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"servers":[]`)
}

func TestCreateGetStopServer(t *testing.T) {
	env := newTestEnv(t, "")

	info := env.createEcho(t, 0)
	assert.Equal(t, "echo", info.Service)
	assert.Equal(t, "running", info.State)
	assert.Equal(t, "127.0.0.1", info.Address)
	assert.False(t, info.CreatedAt.IsZero())
	_, err := uuid.Parse(info.ID)
	require.NoError(t, err)

	resp := env.request(t, http.MethodGet, "/api/v1/servers/"+info.ID, "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, info.Endpoint, got.Endpoint)

	listResp := env.request(t, http.MethodGet, "/api/v1/servers", "", nil)
	defer listResp.Body.Close()
	var list ServerListResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Servers, 1)
	assert.Equal(t, info.ID, list.Servers[0].ID)

	delResp := env.request(t, http.MethodDelete, "/api/v1/servers/"+info.ID, "", nil)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)
	assert.Equal(t, 0, env.reg.Len())

	getResp := env.request(t, http.MethodGet, "/api/v1/servers/"+info.ID, "", nil)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)

	againResp := env.request(t, http.MethodDelete, "/api/v1/servers/"+info.ID, "", nil)
	defer againResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, againResp.StatusCode)
}

func TestCreateRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "no-such-service",
		Port:    101,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decodeError(t, resp))

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/v1/servers", strings.NewReader("{not json"))
	require.NoError(t, err)
	malformed, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer malformed.Body.Close()
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)

	badID := env.request(t, http.MethodDelete, "/api/v1/servers/not-a-uuid", "", nil)
	defer badID.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badID.StatusCode)
}

func TestCreatePortConflict(t *testing.T) {
	env := newTestEnv(t, "")

	env.createEcho(t, 0)

	resp := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateBindFailure(t *testing.T) {
	env := newTestEnv(t, "")

	holder, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer holder.Close()
	port := holder.Addr().(*net.TCPAddr).Port

	resp := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    port,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 0, env.reg.Len())
}

func TestCreateDependencyFailure(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "needy",
		Port:    102,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCreateOptionsOverride(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    0,
		Options: &OptionsPayload{
			MaxSessions: intPtr(3),
			IdleTimeout: strPtr("5s"),
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))

	id, err := uuid.Parse(info.ID)
	require.NoError(t, err)
	entry, ok := env.reg.Get(id)
	require.True(t, ok)
	opts := entry.Server.(*server.Instance).Options()
	assert.Equal(t, 3, opts.MaxSessions)
	assert.Equal(t, 5*time.Second, opts.IdleTimeout)
	assert.Equal(t, interfaces.DefaultServiceOptions().MaxLineBytes, opts.MaxLineBytes)

	bad := env.request(t, http.MethodPost, "/api/v1/servers", "", CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    103,
		Options: &OptionsPayload{IdleTimeout: strPtr("soon")},
	})
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAdminTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3same"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, string(hash))

	anon := env.request(t, http.MethodGet, "/api/v1/servers", "", nil)
	defer anon.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)

	wrong := env.request(t, http.MethodGet, "/api/v1/servers", "nope", nil)
	defer wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	authed := env.request(t, http.MethodGet, "/api/v1/servers", "s3same", nil)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// Health endpoints stay open.
	livez := env.request(t, http.MethodGet, "/livez", "", nil)
	defer livez.Body.Close()
	assert.Equal(t, http.StatusOK, livez.StatusCode)
}

func TestHealthAndDrain(t *testing.T) {
	env := newTestEnv(t, "")

	livez := env.request(t, http.MethodGet, "/livez", "", nil)
	defer livez.Body.Close()
	assert.Equal(t, http.StatusOK, livez.StatusCode)

	ready := env.request(t, http.MethodGet, "/readyz", "", nil)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	drain := env.request(t, http.MethodGet, "/drain", "", nil)
	drain.Body.Close()
	assert.Equal(t, http.StatusOK, drain.StatusCode)

	notReady := env.request(t, http.MethodGet, "/readyz", "", nil)
	notReady.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, notReady.StatusCode)

	undrain := env.request(t, http.MethodGet, "/undrain", "", nil)
	undrain.Body.Close()
	assert.Equal(t, http.StatusOK, undrain.StatusCode)

	readyAgain := env.request(t, http.MethodGet, "/readyz", "", nil)
	readyAgain.Body.Close()
	assert.Equal(t, http.StatusOK, readyAgain.StatusCode)
}

func TestClientRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	c := NewClient(env.ts.URL, "")

	info, err := c.CreateServer(ctx, CreateServerRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    0,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", info.Service)

	servers, err := c.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, info.ID, servers[0].ID)

	got, err := c.GetServer(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Endpoint, got.Endpoint)

	require.NoError(t, c.StopServer(ctx, info.ID))
	assert.Equal(t, 0, env.reg.Len())

	_, err = c.GetServer(ctx, info.ID)
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)

	err = c.StopServer(ctx, "not-a-uuid")
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadRequest, rerr.StatusCode)
}

func TestClientSendsBearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3same"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, string(hash))
	ctx := context.Background()

	_, err = NewClient(env.ts.URL, "s3same").ListServers(ctx)
	require.NoError(t, err)

	_, err = NewClient(env.ts.URL, "wrong").ListServers(ctx)
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnauthorized, rerr.StatusCode)
}
