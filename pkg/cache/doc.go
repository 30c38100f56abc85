// Package cache provides the shared keyed store that query and mutation
// runners coordinate through.
//
// The store implements the caching contract the runners rely on:
//
// - Ordered cache keys with hierarchical (prefix) invalidation
// - Stale-while-revalidate: invalidation marks entries stale, never deletes them
// - At-most-one-in-flight-fetch-per-key via shared flights
// - Synchronous change notifications per key
// - Janitor eviction of entries unobserved for longer than cacheTime,
//   overridable per key via Retain
// - Optional redis tier for warm starts and cross-process invalidation
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore()
//	defer store.Close()
//
//	key := cache.NewKey("users", 5)
//
//	entry, ok := store.Get(ctx, key)
//	if !ok || entry.IsStale(5*time.Minute) {
//		// fetch from source, then:
//		store.Set(ctx, key, value)
//	}
//
// # Deduplicating Fetches
//
//	flight, started := store.StartFlight(key)
//	if !started {
//		<-flight.Done()
//		value, err := flight.Result()
//		// share the result fetched by another runner
//	} else {
//		value, err := produce(ctx)
//		store.FinishFlight(ctx, flight, value, err)
//	}
//
// Every started flight must be finished on every code path; no entry may
// remain permanently in flight.
//
// # Invalidation
//
//	// Marks users and users:5 stale, leaves posts untouched.
//	store.Invalidate(ctx, cache.NewKey("users"))
//
// # Subscriptions
//
//	unsubscribe := store.Subscribe(key, func(e cache.Entry) {
//		// called synchronously on every change to this key
//	})
//	defer unsubscribe()
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - queryflow_cache_hits_total{tier} - Cache hits by tier
//   - queryflow_cache_misses_total - Cache misses
//   - queryflow_cache_invalidations_total{origin} - Entries marked stale
//   - queryflow_cache_flight_joins_total - Deduplicated fetches
//   - queryflow_cache_evictions_total - Janitor evictions
//   - queryflow_cache_entries - Current entry count
package cache
