package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultClientTimeout bounds one API round trip, including a DELETE
// awaiting server teardown.
const defaultClientTimeout = 60 * time.Second

// Client is a typed client for the control API.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewClient creates a client for the control API at baseURL. The token is
// sent as a bearer token when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: defaultClientTimeout},
	}
}

// ListServers returns every live server ordered by creation time.
func (c *Client) ListServers(ctx context.Context) ([]ServerInfo, error) {
	var resp ServerListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/servers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// CreateServer provisions a new server.
func (c *Client) CreateServer(ctx context.Context, req CreateServerRequest) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/servers", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetServer returns one live server by id.
func (c *Client) GetServer(ctx context.Context, id string) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/servers/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// StopServer stops a server and waits for its endpoint to be released.
func (c *Client) StopServer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/servers/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &RequestError{StatusCode: resp.StatusCode, Err: errors.New(apiErr.Error)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
