package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initHealthMetrics() {
	r.PeerLinkScore = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kmesh_peer_link_score",
			Help: "Link score (0-10) derived from the latest health probe",
		},
		[]string{"peer"},
	)

	r.PeerLatencyMs = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kmesh_peer_latency_milliseconds",
			Help: "Round-trip latency of the latest successful health probe",
		},
		[]string{"peer"},
	)

	r.PeersOnline = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "kmesh_peers_online",
			Help: "Number of peers whose latest probe succeeded",
		},
	)

	r.HealthChecksRun = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "kmesh_health_check_rounds_total",
			Help: "Total number of roster-wide health check rounds",
		},
	)
}
