// Package metrics provides the central Prometheus registry reference for
// queryflow. All metrics are defined in their respective packages (cache,
// query, mutation) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by queryflow.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - queryflow_cache_hits_total{tier} (Counter): Cache hits by tier (memory, redis)
//   - queryflow_cache_misses_total (Counter): Cache misses
//   - queryflow_cache_invalidations_total{origin} (Counter): Entries marked stale (local, remote)
//   - queryflow_cache_flight_joins_total (Counter): Fetches deduplicated onto an in-flight request
//   - queryflow_cache_evictions_total (Counter): Janitor evictions
//   - queryflow_cache_entries (Gauge): Current entry count
//   - queryflow_cache_errors_total{operation} (Counter): Redis tier errors
//
// Query Metrics (pkg/query):
//   - queryflow_query_fetches_total{outcome} (Counter): Producer executions by outcome
//   - queryflow_query_fetch_duration_seconds (Histogram): Producer duration including retries
//   - queryflow_query_retries_total (Counter): Retry attempts
//   - queryflow_query_retry_backoff_seconds (Histogram): Backoff duration before retries
//   - queryflow_query_retry_exhausted_total (Counter): Fetches that exhausted their policy
//
// Mutation Metrics (pkg/mutation):
//   - queryflow_mutations_total{outcome} (Counter): Executor invocations by outcome
//   - queryflow_mutation_duration_seconds (Histogram): Executor duration
//   - queryflow_mutation_invalidations_total (Counter): Patterns invalidated by successful mutations
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(queryflow_cache_hits_total[5m])) /
//   (sum(rate(queryflow_cache_hits_total[5m])) + sum(rate(queryflow_cache_misses_total[5m])))
//
//   # Dedup Effectiveness
//   rate(queryflow_cache_flight_joins_total[5m]) / rate(queryflow_query_fetches_total[5m])
//
//   # Fetch Error Rate
//   rate(queryflow_query_fetches_total{outcome="error"}[5m])
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(queryflow_query_fetch_duration_seconds_bucket[5m]))
