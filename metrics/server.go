package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// MetricsServer exposes an instrument set over HTTP on its own listen
// address, kept separate from any API server.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

// New creates a metrics server with a fresh instrument set.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	return NewServer(NewMetrics(namespace), listenAddr)
}

// NewServer creates a metrics server exposing an existing instrument set.
func NewServer(m *Metrics, listenAddr string) (*MetricsServer, error) {
	if m == nil {
		return nil, errors.New("metrics: nil instrument set")
	}
	if listenAddr == "" {
		return nil, errors.New("metrics: empty listen address")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// Metrics returns the served instrument set.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe blocks serving the metrics endpoint until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics endpoint.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
