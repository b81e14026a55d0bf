package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/server"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler processes control API requests. It provisions servers through the
// factory and answers lookups from the registry the factory registers into.
type Handler struct {
	factory  *server.Factory
	registry interfaces.ServerRegistry
	log      *slog.Logger
}

// NewHandler creates a new control API handler.
//
// Parameters:
//   - factory: Server factory used to provision and stop servers
//   - registry: Registry holding the live endpoint registrations
//   - log: Structured logger for operational insights
//
// Returns a configured Handler instance.
func NewHandler(factory *server.Factory, registry interfaces.ServerRegistry, log *slog.Logger) *Handler {
	return &Handler{
		factory:  factory,
		registry: registry,
		log:      log,
	}
}

// HandleListServers returns every live registration ordered by creation
// time.
//
// URL format: GET /api/v1/servers
func (h *Handler) HandleListServers(w http.ResponseWriter, r *http.Request) {
	regs := h.registry.List()
	resp := ServerListResponse{Servers: make([]ServerInfo, 0, len(regs))}
	for _, reg := range regs {
		resp.Servers = append(resp.Servers, serverInfoFromRegistration(reg))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCreateServer provisions a new server from a JSON request body.
//
// URL format: POST /api/v1/servers
//
// Response: 201 with the created server's info on success. Failures map to
// 409 when the port is already claimed, 400 for invalid arguments, 502 when
// the listener could not bind, and 500 for dependency resolution failures.
func (h *Handler) HandleCreateServer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.log.Error("Failed to read request body", "err", err)
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	var req CreateServerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.log.Error("Failed to parse create request", "err", err)
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	opts, err := req.Options.apply(h.factory.DefaultOptions())
	if err != nil {
		h.writeError(w, requestErrorFor(err))
		return
	}

	createReq := server.CreateRequest{
		Service:     interfaces.ServiceKind(req.Service),
		Server:      interfaces.ServerKind(req.Server),
		Address:     req.Address,
		Port:        req.Port,
		Certificate: req.Certificate,
		Encoding:    interfaces.Encoding(req.Encoding),
	}
	if req.Options != nil {
		createReq.Options = &opts
	}

	inst, err := h.factory.Create(r.Context(), createReq)
	if err != nil {
		h.log.Error("Failed to create server", "err", err,
			"service", req.Service, "port", req.Port)
		h.writeError(w, requestErrorFor(err))
		return
	}

	h.writeJSON(w, http.StatusCreated, ServerInfo{
		ID:        inst.ID().String(),
		Endpoint:  inst.Endpoint().String(),
		Address:   inst.Endpoint().Address,
		Port:      inst.Endpoint().Port,
		Service:   inst.ServiceKind().String(),
		State:     inst.State().String(),
		CreatedAt: inst.CreatedAt(),
	})
}

// HandleGetServer returns one live registration.
//
// URL format: GET /api/v1/servers/{server_id}
//
// Response: 200 with the server's info, or 404 when no live registration
// matches the id.
func (h *Handler) HandleGetServer(w http.ResponseWriter, r *http.Request) {
	id, rerr := parseServerID(r)
	if rerr != nil {
		h.writeError(w, rerr)
		return
	}

	reg, ok := h.registry.Get(id)
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: interfaces.ErrRegistrationNotFound})
		return
	}

	h.writeJSON(w, http.StatusOK, serverInfoFromRegistration(reg))
}

// HandleStopServer stops a server and waits for its teardown to finish.
//
// URL format: DELETE /api/v1/servers/{server_id}
//
// Response: 204 once the endpoint has been released, or 404 when no live
// registration matches the id.
func (h *Handler) HandleStopServer(w http.ResponseWriter, r *http.Request) {
	id, rerr := parseServerID(r)
	if rerr != nil {
		h.writeError(w, rerr)
		return
	}

	if err := h.factory.Stop(r.Context(), id); err != nil {
		h.log.Error("Failed to stop server", "err", err, "server_id", id)
		h.writeError(w, requestErrorFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseServerID(r *http.Request) (uuid.UUID, *RequestError) {
	raw := r.PathValue("server_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid server id")}
	}
	return id, nil
}

// requestErrorFor maps factory and registry errors onto HTTP status codes.
func requestErrorFor(err error) *RequestError {
	var depErr *interfaces.DependencyResolutionError
	switch {
	case errors.Is(err, interfaces.ErrRegistrationNotFound):
		return &RequestError{StatusCode: http.StatusNotFound, Err: err}
	case errors.Is(err, interfaces.ErrPortInUse):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	case errors.Is(err, interfaces.ErrBindFailed):
		return &RequestError{StatusCode: http.StatusBadGateway, Err: err}
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	case errors.As(err, &depErr):
		return &RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	default:
		return &RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, rerr *RequestError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rerr.StatusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: rerr.Error()}); err != nil {
		h.log.Error("Failed to encode error response", "err", err)
	}
}
