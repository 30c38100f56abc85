// Package mutation provides the write-path runner: exactly-once execution
// of a non-idempotent operation with post-success cache invalidation.
package mutation

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

// Prometheus metrics for mutations.
var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queryflow_mutations_total",
		Help: "Total executor invocations by outcome",
	}, []string{"outcome"}) // "success", "error"

	mutationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queryflow_mutation_duration_seconds",
		Help:    "Executor invocation duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	mutationInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queryflow_mutation_invalidations_total",
		Help: "Total cache key patterns invalidated by successful mutations",
	})
)

// Status is the state of a mutation runner.
type Status string

const (
	// StatusIdle means no mutation has run since creation or Reset.
	StatusIdle Status = "idle"

	// StatusPending means an executor call is running.
	StatusPending Status = "pending"

	// StatusSuccess means the last mutation succeeded.
	StatusSuccess Status = "success"

	// StatusError means the last mutation failed.
	StatusError Status = "error"
)

// Snapshot is the live, observable output of a mutation runner.
type Snapshot[T any] struct {
	Status Status
	Data   T
	Err    error
}

// IsPending reports whether an executor call is running.
func (s Snapshot[T]) IsPending() bool { return s.Status == StatusPending }

// IsSuccess reports whether the last mutation succeeded.
func (s Snapshot[T]) IsSuccess() bool { return s.Status == StatusSuccess }

// IsError reports whether the last mutation failed.
func (s Snapshot[T]) IsError() bool { return s.Status == StatusError }

// Config is the caller-supplied mutation descriptor.
type Config[T any, V any] struct {
	// Executor performs the write. Required. It runs exactly once per
	// Mutate/MutateAsync call; overlapping calls are not deduplicated.
	Executor func(ctx context.Context, variables V) (T, error)

	// OnSuccess, if set, runs before cache invalidation so it may read or
	// seed the cache first (optimistic-update ordering).
	OnSuccess func(data T, variables V)

	// OnError, if set, runs on failure. Its absence never swallows the
	// error: the snapshot carries it regardless.
	OnError func(err error, variables V)

	// Invalidates lists the key patterns marked stale after a successful
	// mutation.
	Invalidates []cache.Key
}

// Runner orchestrates non-idempotent writes against the shared store.
type Runner[T any, V any] struct {
	store  *cache.Store
	cfg    Config[T, V]
	state  *observable.Value[Snapshot[T]]
	logger zerolog.Logger

	mu         sync.Mutex
	generation uint64
}

// New creates a mutation runner in the idle state.
func New[T any, V any](store *cache.Store, cfg Config[T, V]) *Runner[T, V] {
	return &Runner[T, V]{
		store:  store,
		cfg:    cfg,
		state:  observable.New(Snapshot[T]{Status: StatusIdle}),
		logger: log.With().Str("component", "mutation-runner").Logger(),
	}
}

// State returns the current snapshot.
func (r *Runner[T, V]) State() Snapshot[T] {
	return r.state.Get()
}

// Subscribe registers for snapshot changes; returns an unsubscribe func.
func (r *Runner[T, V]) Subscribe(fn func(Snapshot[T])) func() {
	return r.state.Subscribe(fn)
}

// Mutate is the fire-and-forget form: it starts the executor and returns
// immediately. The outcome surfaces only through the snapshot and the
// configured callbacks.
func (r *Runner[T, V]) Mutate(ctx context.Context, variables V) {
	gen := r.begin()
	go r.run(ctx, variables, gen)
}

// MutateAsync is the awaitable form: it blocks until the executor
// settles and returns its outcome, enabling caller-side sequencing.
func (r *Runner[T, V]) MutateAsync(ctx context.Context, variables V) (T, error) {
	gen := r.begin()
	return r.run(ctx, variables, gen)
}

// Reset clears data, error and status back to idle. An in-flight
// executor call is not cancelled; its late-arriving result is discarded
// so it cannot resurrect success or error state.
func (r *Runner[T, V]) Reset() {
	r.mu.Lock()
	r.generation++
	r.mu.Unlock()

	r.state.Set(Snapshot[T]{Status: StatusIdle})
}

// begin starts a fresh pending cycle and returns its generation.
func (r *Runner[T, V]) begin() uint64 {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	r.state.Set(Snapshot[T]{Status: StatusPending})
	return gen
}

// run executes the mutation exactly once. State writes are skipped when a
// Reset or a newer call superseded this generation; callbacks and cache
// invalidation still run, since the write itself happened.
func (r *Runner[T, V]) run(ctx context.Context, variables V, gen uint64) (T, error) {
	start := time.Now()
	data, err := r.cfg.Executor(ctx, variables)
	mutationDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	superseded := gen != r.generation
	r.mu.Unlock()

	if err != nil {
		mutationsTotal.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Msg("Mutation failed")
		if !superseded {
			r.state.Set(Snapshot[T]{Status: StatusError, Err: err})
		}
		if r.cfg.OnError != nil {
			r.cfg.OnError(err, variables)
		}
		return data, err
	}

	mutationsTotal.WithLabelValues("success").Inc()
	if !superseded {
		r.state.Set(Snapshot[T]{Status: StatusSuccess, Data: data})
	}

	// User callback first, invalidation second: the callback may read or
	// seed the cache before dependent queries refetch.
	if r.cfg.OnSuccess != nil {
		r.cfg.OnSuccess(data, variables)
	}
	if len(r.cfg.Invalidates) > 0 {
		r.store.Invalidate(ctx, r.cfg.Invalidates...)
		mutationInvalidations.Add(float64(len(r.cfg.Invalidates)))
	}

	return data, nil
}
