package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCacheMetrics() {
	r.CacheOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_cache_operations_total",
			Help: "Total number of distributed cache operations",
		},
		[]string{"op", "result"}, // set/get, local_hit/peer_hit/miss/ok
	)

	r.CachePropagationTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kmesh_cache_propagation_total",
			Help: "Total number of cache writes propagated to peers",
		},
		[]string{"result"}, // ok, failed
	)

	r.CacheEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "kmesh_cache_entries",
			Help: "Number of entries in the local cache store",
		},
	)
}
