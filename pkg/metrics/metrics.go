// Package metrics holds the Prometheus collectors of a mesh node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for one mesh node.
type Registry struct {
	// Transport
	TransportRequestsTotal  *prometheus.CounterVec
	TransportRequestSeconds *prometheus.HistogramVec

	// Peer health
	PeerLinkScore   *prometheus.GaugeVec
	PeerLatencyMs   *prometheus.GaugeVec
	PeersOnline     prometheus.Gauge
	HealthChecksRun prometheus.Counter

	// Routing
	BalancerSelectionsTotal *prometheus.CounterVec
	FailoverAttemptsTotal   *prometheus.CounterVec
	FailoverExhaustedTotal  *prometheus.CounterVec

	// Cache
	CacheOperationsTotal  *prometheus.CounterVec
	CachePropagationTotal *prometheus.CounterVec
	CacheEntries          prometheus.Gauge

	// Consensus and fan-out
	ConsensusRoundsTotal  *prometheus.CounterVec
	BroadcastTargetsTotal *prometheus.CounterVec

	// HTTP surface
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every collector initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.initTransportMetrics()
	r.initHealthMetrics()
	r.initRoutingMetrics()
	r.initCacheMetrics()
	r.initMeshMetrics()
	r.initHTTPMetrics()

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
