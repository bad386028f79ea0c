package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_transport_requests_total",
			Help: "Total number of transport sends",
		},
		[]string{"kind", "result"}, // ok, unreachable, timeout, malformed, remote
	)

	r.TransportRequestSeconds = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kmesh_transport_request_duration_seconds",
			Help:    "Duration of transport sends in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 1, 3, 10, 30},
		},
		[]string{"kind"},
	)
}
