package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoutingMetrics() {
	r.BalancerSelectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_balancer_selections_total",
			Help: "Total number of peer selections",
		},
		[]string{"strategy", "result"}, // selected, no_healthy_peers
	)

	r.FailoverAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_failover_attempts_total",
			Help: "Total number of backend attempts made by the failover router",
		},
		[]string{"query_type", "backend", "result"}, // success, failure
	)

	r.FailoverExhaustedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_failover_exhausted_total",
			Help: "Total number of operations for which every backend failed",
		},
		[]string{"query_type"},
	)
}
