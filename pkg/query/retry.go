package query

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	queryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queryflow_query_retries_total",
		Help: "Total number of producer retry attempts",
	})

	queryRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queryflow_query_retry_backoff_seconds",
		Help:    "Backoff duration before producer retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	queryRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queryflow_query_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their retry policy",
	})
)

// Backoff defaults: capped exponential growth with jitter. The contract
// only requires a monotonic bounded backoff; these mirror common
// query-cache library defaults.
const (
	DefaultMaxRetries        = 3
	defaultInitialBackoff    = 500 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	defaultBackoffMultiplier = 2.0
)

// RetryPolicy controls how failed producer calls are retried. A fixed
// count, an on/off switch, or a predicate all express the same contract:
// with N permitted retries the producer runs at most N+1 times.
type RetryPolicy struct {
	// MaxRetries bounds retries when ShouldRetry is nil.
	MaxRetries int

	// ShouldRetry, when set, decides per failure whether to retry.
	// failures is 1 after the first failed call.
	ShouldRetry func(failures int, err error) bool

	// Backoff computes the delay before retry attempt index (0-based).
	// Nil selects the default capped exponential backoff.
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 retries with capped
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries}
}

// RetryCount returns a policy permitting exactly n retries.
func RetryCount(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n}
}

// NoRetry returns a policy that never retries.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 0}
}

// RetryIf returns a policy driven by a predicate. The predicate alone
// bounds the retries; combine it with a failure-count check if a hard cap
// is needed.
func RetryIf(pred func(failures int, err error) bool) RetryPolicy {
	return RetryPolicy{ShouldRetry: pred}
}

// permits reports whether another attempt is allowed after the given
// failure count.
func (p RetryPolicy) permits(failures int, err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(failures, err)
	}
	return failures <= p.MaxRetries
}

// delay computes the backoff before the given 0-based retry attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return defaultBackoff(attempt)
}

// defaultBackoff grows exponentially from the initial delay, clamps at
// the maximum, and adds ±20% jitter to avoid synchronized retries.
func defaultBackoff(attempt int) time.Duration {
	backoff := float64(defaultInitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= defaultBackoffMultiplier
		if backoff >= float64(defaultMaxBackoff) {
			backoff = float64(defaultMaxBackoff)
			break
		}
	}
	jittered := time.Duration(backoff * (0.8 + rand.Float64()*0.4))
	if jittered > defaultMaxBackoff {
		jittered = defaultMaxBackoff
	}
	return jittered
}
