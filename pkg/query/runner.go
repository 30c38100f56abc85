// Package query provides the read-path runner: a deduplicated,
// staleness-tracked, retrying orchestration of a single idempotent
// producer against the shared cache store.
package query

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/queryflow/queryflow/pkg/cache"
	"github.com/queryflow/queryflow/pkg/observable"
)

// Prometheus metrics for query fetches.
var (
	queryFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queryflow_query_fetches_total",
		Help: "Total producer executions by outcome",
	}, []string{"outcome"}) // "success", "error"

	queryFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queryflow_query_fetch_duration_seconds",
		Help:    "Producer execution duration in seconds, including retries",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// DefaultStaleTime is how long a cached value is served without refetch.
const DefaultStaleTime = 5 * time.Minute

// Config holds the per-runner descriptor. It is immutable for the
// runner's lifetime except for the enabled flag, toggled via SetEnabled.
type Config struct {
	// StaleTime is how long a fetched value counts as fresh.
	// Defaults to DefaultStaleTime.
	StaleTime time.Duration

	// CacheTime is how long the fetched entry outlives its observers in
	// the store, as a per-key retention hint. Zero keeps the store-wide
	// cache time.
	CacheTime time.Duration

	// Disabled starts the runner idle: no cache access, no fetches,
	// until SetEnabled(true).
	Disabled bool

	// RefetchOnResume makes Resume trigger a refetch when the cached
	// entry is stale. Off by default.
	RefetchOnResume bool

	// Retry is the retry policy. Nil selects DefaultRetryPolicy.
	Retry *RetryPolicy
}

// Runner orchestrates one idempotent read against the shared store. It
// persists for the caller's lifetime, cycling between fetching and
// settled states; Close releases its store subscription.
type Runner[T any] struct {
	store    *cache.Store
	key      cache.Key
	producer func(context.Context) (T, error)

	staleTime       time.Duration
	retry           RetryPolicy
	refetchOnResume bool

	state  *observable.Value[Snapshot[T]]
	logger zerolog.Logger

	// baseCtx governs background work started by cache events.
	baseCtx context.Context

	mu            sync.Mutex
	enabled       bool
	closed        bool
	backoffCancel context.CancelFunc
	unsubStore    func()
}

// New creates a runner and, unless disabled, activates it immediately.
// ctx bounds background fetches triggered by cache events for the
// runner's lifetime.
func New[T any](ctx context.Context, store *cache.Store, key cache.Key, producer func(context.Context) (T, error), cfg Config) *Runner[T] {
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	r := &Runner[T]{
		store:           store,
		key:             key,
		producer:        producer,
		staleTime:       cfg.StaleTime,
		retry:           retry,
		refetchOnResume: cfg.RefetchOnResume,
		baseCtx:         ctx,
		enabled:         !cfg.Disabled,
		logger: log.With().
			Str("component", "query-runner").
			Str("key", key.String()).
			Logger(),
	}

	initial := Snapshot[T]{Status: StatusIdle}
	if r.enabled {
		initial.Status = StatusPending
	}
	r.state = observable.New(initial)

	if cfg.CacheTime > 0 {
		store.Retain(key, cfg.CacheTime)
	}
	r.unsubStore = store.Subscribe(key, r.onCacheChange)

	if r.enabled {
		r.activate(ctx, false)
	}
	return r
}

// State returns the current snapshot.
func (r *Runner[T]) State() Snapshot[T] {
	return r.state.Get()
}

// Subscribe registers for snapshot changes; returns an unsubscribe func.
func (r *Runner[T]) Subscribe(fn func(Snapshot[T])) func() {
	return r.state.Subscribe(fn)
}

// Key returns the runner's cache key.
func (r *Runner[T]) Key() cache.Key {
	return r.key
}

// Refetch forces a fetch regardless of freshness. Currently displayed
// data is kept; the fetching overlay is set instead of resetting to
// pending.
func (r *Runner[T]) Refetch(ctx context.Context) {
	r.activate(ctx, true)
}

// SetEnabled toggles the runner. Disabling cancels this runner's pending
// retry waits but not a fetch already in flight, which still settles the
// shared cache for other observers. Enabling activates immediately.
func (r *Runner[T]) SetEnabled(enabled bool) {
	r.mu.Lock()
	if r.closed || r.enabled == enabled {
		r.mu.Unlock()
		return
	}
	r.enabled = enabled
	cancel := r.backoffCancel
	r.mu.Unlock()

	if !enabled {
		if cancel != nil {
			cancel()
		}
		return
	}
	r.activate(r.baseCtx, false)
}

// Resume signals that the hosting environment regained focus. If
// RefetchOnResume is set and the entry is stale, a refetch is triggered.
func (r *Runner[T]) Resume() {
	if !r.refetchOnResume {
		return
	}
	r.mu.Lock()
	enabled := r.enabled && !r.closed
	r.mu.Unlock()
	if !enabled {
		return
	}

	entry, ok := r.store.Get(r.baseCtx, r.key)
	if !ok || entry.IsStale(r.staleTime) {
		r.Refetch(r.baseCtx)
	}
}

// Close releases the store subscription and cancels pending retry waits.
func (r *Runner[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.backoffCancel
	unsub := r.unsubStore
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

// activate runs the read algorithm: serve fresh cache, join an in-flight
// fetch, or start one.
func (r *Runner[T]) activate(ctx context.Context, force bool) {
	r.mu.Lock()
	if !r.enabled || r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	entry, ok := r.store.Get(ctx, r.key)
	if ok && entry.HasValue {
		if data, converted := coerce[T](entry.Value); converted {
			if !force && entry.IsFresh(r.staleTime) {
				r.settleSuccess(data, entry.FetchedAt)
				return
			}
			// Stale or forced: keep the last-known value visible while
			// the refresh runs.
			r.state.Update(func(s Snapshot[T]) Snapshot[T] {
				s.Status = StatusSuccess
				s.Data = data
				s.Err = nil
				s.UpdatedAt = entry.FetchedAt
				return s
			})
		}
	}

	flight, started := r.store.StartFlight(r.key)
	r.markFetching()

	if !started {
		r.logger.Debug().Msg("Joining in-flight fetch")
		go r.awaitFlight(flight)
		return
	}
	go r.executeFlight(ctx, flight)
}

// awaitFlight resolves this runner from a fetch started by another
// runner for the same key.
func (r *Runner[T]) awaitFlight(flight *cache.Flight) {
	<-flight.Done()
	value, err := flight.Result()
	if err != nil {
		r.settleError(err)
		return
	}
	if data, converted := coerce[T](value); converted {
		r.settleSuccess(data, flight.FetchedAt())
	}
}

// executeFlight runs the producer with retries and settles the shared
// flight on every path.
func (r *Runner[T]) executeFlight(ctx context.Context, flight *cache.Flight) {
	bctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.backoffCancel = cancel
	r.mu.Unlock()
	defer cancel()

	start := time.Now()
	defer func() {
		queryFetchDuration.Observe(time.Since(start).Seconds())
	}()

	failures := 0
	for {
		value, err := r.producer(ctx)
		if err == nil {
			queryFetchesTotal.WithLabelValues("success").Inc()
			if failures > 0 {
				r.logger.Info().Int("failures", failures).Msg("Fetch succeeded after retry")
			}
			r.store.FinishFlight(ctx, flight, value, nil)
			r.settleSuccess(value, flight.FetchedAt())
			return
		}

		failures++
		if !r.retry.permits(failures, err) {
			queryFetchesTotal.WithLabelValues("error").Inc()
			if failures > 1 {
				queryRetryExhaustedTotal.Inc()
			}
			r.logger.Warn().Err(err).Int("failures", failures).Msg("Fetch failed")
			r.store.FinishFlight(ctx, flight, nil, err)
			r.settleError(err)
			return
		}

		delay := r.retry.delay(failures - 1)
		queryRetriesTotal.Inc()
		queryRetryBackoffSeconds.Observe(delay.Seconds())
		r.logger.Debug().
			Err(err).
			Int("failures", failures).
			Dur("backoff", delay).
			Msg("Retrying fetch after backoff")

		select {
		case <-time.After(delay):
		case <-bctx.Done():
			// Runner disabled or closed mid-backoff: stop retrying but
			// settle the shared flight so joined observers resolve, and
			// settle the local snapshot so it stops reporting a fetch.
			queryFetchesTotal.WithLabelValues("error").Inc()
			r.logger.Debug().Msg("Retry scheduling cancelled")
			r.store.FinishFlight(ctx, flight, nil, err)
			r.settleError(err)
			return
		}
	}
}

// markFetching sets the fetching overlay, transitioning idle to pending
// when no data has arrived yet.
func (r *Runner[T]) markFetching() {
	r.state.Update(func(s Snapshot[T]) Snapshot[T] {
		s.IsFetching = true
		if s.Status == StatusIdle {
			s.Status = StatusPending
		}
		return s
	})
}

func (r *Runner[T]) settleSuccess(data T, fetchedAt time.Time) {
	r.state.Update(func(s Snapshot[T]) Snapshot[T] {
		s.Status = StatusSuccess
		s.Data = data
		s.Err = nil
		s.IsFetching = false
		s.UpdatedAt = fetchedAt
		return s
	})
}

// settleError surfaces the error while retaining last known data.
func (r *Runner[T]) settleError(err error) {
	r.state.Update(func(s Snapshot[T]) Snapshot[T] {
		s.Status = StatusError
		s.Err = err
		s.IsFetching = false
		return s
	})
}

// onCacheChange reacts to store mutations from any source: value updates
// from other runners refresh the snapshot, invalidations trigger a
// background refetch while the last-known value stays visible.
func (r *Runner[T]) onCacheChange(entry cache.Entry) {
	r.mu.Lock()
	enabled := r.enabled && !r.closed
	r.mu.Unlock()

	if entry.FetchedAt.IsZero() {
		// Invalidated (or a failed first fetch). Refetch only from a
		// settled success: the error path already ran its retry policy.
		snap := r.state.Get()
		if enabled && snap.Status == StatusSuccess && !entry.IsFetching {
			go r.activate(r.baseCtx, false)
		}
		return
	}

	if !enabled || !entry.HasValue {
		return
	}
	if data, converted := coerce[T](entry.Value); converted {
		r.state.Update(func(s Snapshot[T]) Snapshot[T] {
			s.Status = StatusSuccess
			s.Data = data
			s.Err = nil
			s.IsFetching = entry.IsFetching
			s.UpdatedAt = entry.FetchedAt
			return s
		})
	}
}
