package httpserver

import (
	"fmt"
	"time"

	"github.com/harborgrid/harbormaster/interfaces"
)

// CreateServerRequest is the JSON body of POST /api/v1/servers.
type CreateServerRequest struct {
	// Service is the protocol service kind to run.
	Service string `json:"service"`

	// Server selects the runner kind. Empty means the standard TCP
	// accept loop.
	Server string `json:"server,omitempty"`

	// Address to bind. Empty means all interfaces.
	Address string `json:"address,omitempty"`

	// Port to bind.
	Port int `json:"port"`

	// Certificate is an optional certificate reference URI enabling TLS.
	Certificate string `json:"certificate,omitempty"`

	// Encoding is the session text encoding. Empty means UTF-8.
	Encoding string `json:"encoding,omitempty"`

	// Options overrides the daemon's default service options. Absent
	// keys keep their defaults.
	Options *OptionsPayload `json:"options,omitempty"`
}

// OptionsPayload carries per-server option overrides. Pointer fields
// distinguish "absent" from zero values; durations are Go duration
// strings such as "90s" or "2m".
type OptionsPayload struct {
	MaxSessions  *int    `json:"max_sessions,omitempty"`
	IdleTimeout  *string `json:"idle_timeout,omitempty"`
	ReadTimeout  *string `json:"read_timeout,omitempty"`
	WriteTimeout *string `json:"write_timeout,omitempty"`
	MaxLineBytes *int    `json:"max_line_bytes,omitempty"`
	TCPNoDelay   *bool   `json:"tcp_no_delay,omitempty"`
	LogSessions  *bool   `json:"log_sessions,omitempty"`
}

// apply overlays the payload's set fields onto a copy of base.
func (p *OptionsPayload) apply(base interfaces.ServiceOptions) (interfaces.ServiceOptions, error) {
	opts := base.Clone()
	if p == nil {
		return opts, nil
	}

	if p.MaxSessions != nil {
		opts.MaxSessions = *p.MaxSessions
	}
	if p.MaxLineBytes != nil {
		opts.MaxLineBytes = *p.MaxLineBytes
	}
	if p.TCPNoDelay != nil {
		opts.TCPNoDelay = *p.TCPNoDelay
	}
	if p.LogSessions != nil {
		opts.LogSessions = *p.LogSessions
	}

	durations := []struct {
		name  string
		raw   *string
		field *time.Duration
	}{
		{"idle_timeout", p.IdleTimeout, &opts.IdleTimeout},
		{"read_timeout", p.ReadTimeout, &opts.ReadTimeout},
		{"write_timeout", p.WriteTimeout, &opts.WriteTimeout},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return opts, fmt.Errorf("%w: invalid %s: %v", interfaces.ErrInvalidArgument, d.name, err)
		}
		*d.field = parsed
	}

	return opts, nil
}

// ServerInfo describes one provisioned server in API responses.
type ServerInfo struct {
	ID        string    `json:"server_id"`
	Endpoint  string    `json:"endpoint"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Service   string    `json:"service"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// ServerListResponse is the body of GET /api/v1/servers.
type ServerListResponse struct {
	Servers []ServerInfo `json:"servers"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func serverInfoFromRegistration(reg *interfaces.ServerRegistration) ServerInfo {
	return ServerInfo{
		ID:        reg.Server.ID().String(),
		Endpoint:  reg.Endpoint.String(),
		Address:   reg.Endpoint.Address,
		Port:      reg.Endpoint.Port,
		Service:   reg.Server.ServiceKind().String(),
		State:     reg.Server.State().String(),
		CreatedAt: reg.CreatedAt,
	}
}
