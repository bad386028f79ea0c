package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMeshMetrics() {
	r.ConsensusRoundsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_consensus_rounds_total",
			Help: "Total number of consensus rounds by verdict",
		},
		[]string{"verdict"},
	)

	r.BroadcastTargetsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_broadcast_targets_total",
			Help: "Total number of broadcast sends by outcome",
		},
		[]string{"api_path", "outcome"},
	)
}
