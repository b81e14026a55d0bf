package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments the provisioning layer records. All record
// methods are safe on a nil receiver so call sites do not need to guard for
// disabled metrics.
type Metrics struct {
	registry *prometheus.Registry

	serversRunning prometheus.Gauge
	serversCreated *prometheus.CounterVec
	createFailures *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
}

// NewMetrics creates the instrument set on a private registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		serversRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers_running",
			Help:      "Number of currently registered running servers.",
		}),
		serversCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "servers_created_total",
			Help:      "Servers successfully created, by service kind.",
		}, []string{"service"}),
		createFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_create_failures_total",
			Help:      "Failed creation requests, by failure reason.",
		}, []string{"reason"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Currently open protocol sessions across all servers.",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Accepted protocol sessions, by service kind.",
		}, []string{"service"}),
	}
}

// RecordServerCreated counts a successful creation and bumps the running
// gauge.
func (m *Metrics) RecordServerCreated(service string) {
	if m == nil {
		return
	}
	m.serversCreated.WithLabelValues(service).Inc()
	m.serversRunning.Inc()
}

// RecordCreateFailure counts a failed creation request.
func (m *Metrics) RecordCreateFailure(reason string) {
	if m == nil {
		return
	}
	m.createFailures.WithLabelValues(reason).Inc()
}

// RecordServerStopped drops the running gauge.
func (m *Metrics) RecordServerStopped() {
	if m == nil {
		return
	}
	m.serversRunning.Dec()
}

// RecordSessionOpened counts an accepted session.
func (m *Metrics) RecordSessionOpened(service string) {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.WithLabelValues(service).Inc()
}

// RecordSessionClosed drops the active-sessions gauge.
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// Handler serves the instrument set in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
