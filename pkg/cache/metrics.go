package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits by tier (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryflow_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheInvalidations tracks entries marked stale by invalidation
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_cache_invalidations_total",
			Help: "Total number of entries marked stale by invalidation",
		},
		[]string{"origin"}, // "local", "remote"
	)

	// FlightJoins tracks fetches that joined an existing flight instead of
	// issuing a duplicate call
	FlightJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryflow_cache_flight_joins_total",
			Help: "Total number of fetches deduplicated onto an in-flight request",
		},
	)

	// CacheEvictions tracks entries removed by the janitor
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryflow_cache_evictions_total",
			Help: "Total number of entries evicted after cacheTime elapsed with no observers",
		},
	)

	// CacheEntries tracks the current number of entries in the store
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryflow_cache_entries",
			Help: "Current number of entries in the cache store",
		},
	)

	// CacheErrors tracks redis tier operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_cache_errors_total",
			Help: "Total number of cache tier operation errors",
		},
		[]string{"operation"}, // "get", "set", "publish"
	)
)
