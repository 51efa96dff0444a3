package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for response memoization.
var (
	// Hits counts memoized responses served without a network call.
	Hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coursecache_response_cache_hits_total",
		Help: "Memoized API responses served without a network call",
	})

	// Misses counts lookups that fell through to the network.
	Misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coursecache_response_cache_misses_total",
		Help: "Response cache lookups that required a network call",
	})

	// Errors counts failed cache operations by operation.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursecache_response_cache_errors_total",
		Help: "Response cache operation errors",
	}, []string{"operation"})
)
