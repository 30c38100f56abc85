package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCacheTime is how long an unobserved entry is retained before
	// the janitor evicts it.
	DefaultCacheTime = 10 * time.Minute

	// minSweepInterval bounds how often the janitor runs.
	minSweepInterval = 1 * time.Second
)

// Store is the shared cache: a keyed map of entries plus subscriber lists
// and per-key flights. It is the single shared mutable resource between
// any number of query and mutation runners; all operations are safe for
// concurrent use.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*storeEntry
	subs       map[string]map[int]func(Entry)
	flights    map[string]*Flight
	retentions map[string]time.Duration
	nextSub    int
	closed     bool
	stopJan    chan struct{}
	janWG      sync.WaitGroup

	id        string
	cacheTime time.Duration
	redis     *redisTier
	logger    zerolog.Logger
}

type storeEntry struct {
	entry   Entry
	touched time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCacheTime sets how long unobserved entries are retained.
func WithCacheTime(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cacheTime = d
		}
	}
}

// WithRedis attaches a redis tier: entries are written through to redis
// with TTL, local misses consult redis, and invalidations are broadcast
// to peer processes over pub/sub.
func WithRedis(client *redis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.redis = newRedisTier(client, s.logger)
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a cache store and starts its janitor. The store is
// meant to be constructed once at application start, injected into every
// runner, and torn down via Close at shutdown.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*storeEntry),
		subs:       make(map[string]map[int]func(Entry)),
		flights:    make(map[string]*Flight),
		retentions: make(map[string]time.Duration),
		stopJan:    make(chan struct{}),
		id:        uuid.NewString(),
		cacheTime: DefaultCacheTime,
		logger:    log.With().Str("component", "cache-store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.janWG.Add(1)
	go s.janitor()

	if s.redis != nil {
		s.janWG.Add(1)
		go s.listenRemoteInvalidations()
	}

	return s
}

// Get looks up the entry for key. The value and freshness metadata are
// never modified, but the lookup refreshes the entry's retention stamp
// (keeping read entries alive past the janitor) and, on a local miss,
// seeds the local map from the redis tier if one is attached.
func (s *Store) Get(ctx context.Context, key Key) (Entry, bool) {
	ks := key.String()

	s.mu.Lock()
	se, ok := s.entries[ks]
	if ok {
		se.touched = time.Now()
		entry := se.entry
		entry.IsFetching = s.flights[ks] != nil
		s.mu.Unlock()
		CacheHits.WithLabelValues("memory").Inc()
		return entry, true
	}
	s.mu.Unlock()

	if s.redis != nil {
		if entry, ok := s.redis.get(ctx, key); ok {
			s.mu.Lock()
			// Re-check: a concurrent Set wins over the redis snapshot.
			if cur, exists := s.entries[ks]; exists {
				entry = cur.entry
			} else {
				s.entries[ks] = &storeEntry{entry: entry, touched: time.Now()}
				CacheEntries.Set(float64(len(s.entries)))
			}
			entry.IsFetching = s.flights[ks] != nil
			s.mu.Unlock()
			CacheHits.WithLabelValues("redis").Inc()
			return entry, true
		}
	}

	CacheMisses.Inc()
	return Entry{}, false
}

// Set creates or overwrites the entry's value, stamps FetchedAt, clears
// the in-flight flag, and notifies all subscribers of that key.
func (s *Store) Set(ctx context.Context, key Key, value any) {
	s.setAt(ctx, key, value, time.Now())
}

// setAt is Set with an explicit timestamp so a flight settling through
// FinishFlight carries the same FetchedAt as the entry it wrote.
func (s *Store) setAt(ctx context.Context, key Key, value any, now time.Time) {
	ks := key.String()

	s.mu.Lock()
	se, ok := s.entries[ks]
	if !ok {
		se = &storeEntry{}
		s.entries[ks] = se
	}
	se.entry = Entry{
		Key:       key,
		Value:     value,
		HasValue:  true,
		FetchedAt: now,
	}
	se.touched = now
	CacheEntries.Set(float64(len(s.entries)))
	entry := se.entry
	callbacks := s.subscribersLocked(ks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(entry)
	}

	if s.redis != nil {
		s.redis.set(ctx, key, entry, s.cacheTime)
	}
}

// Invalidate marks every entry matched by one of the patterns as stale:
// FetchedAt is zeroed so the next read refreshes, but the cached value
// stays visible until the refresh completes. Matching is exact or
// strict-prefix, so NewKey("users") also invalidates NewKey("users", 1).
// With a redis tier attached the patterns are broadcast to peers.
func (s *Store) Invalidate(ctx context.Context, patterns ...Key) {
	s.invalidateLocal(patterns, "local")

	if s.redis != nil {
		for _, pattern := range patterns {
			s.redis.publishInvalidation(ctx, s.id, pattern)
		}
	}
}

func (s *Store) invalidateLocal(patterns []Key, origin string) {
	type notification struct {
		entry     Entry
		callbacks []func(Entry)
	}
	var pending []notification

	s.mu.Lock()
	for ks, se := range s.entries {
		for _, pattern := range patterns {
			if !se.entry.Key.HasPrefix(pattern) {
				continue
			}
			se.entry.FetchedAt = time.Time{}
			se.touched = time.Now()
			CacheInvalidations.WithLabelValues(origin).Inc()
			entry := se.entry
			entry.IsFetching = s.flights[ks] != nil
			pending = append(pending, notification{entry, s.subscribersLocked(ks)})
			break
		}
	}
	s.mu.Unlock()

	for _, n := range pending {
		for _, cb := range n.callbacks {
			cb(n.entry)
		}
	}
}

// Retain sets a per-key retention hint: the entry for key survives the
// janitor for d after its last read instead of the store-wide cache time.
// Zero or negative d removes the hint. The retention is dropped when the
// entry is evicted.
func (s *Store) Retain(key Key, d time.Duration) {
	ks := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if d <= 0 {
		delete(s.retentions, ks)
		return
	}
	s.retentions[ks] = d
}

// Subscribe registers a callback invoked synchronously whenever the entry
// for key changes, from any source. The returned function unsubscribes.
func (s *Store) Subscribe(key Key, callback func(Entry)) func() {
	ks := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[ks] == nil {
		s.subs[ks] = make(map[int]func(Entry))
	}
	token := s.nextSub
	s.nextSub++
	s.subs[ks][token] = callback

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[ks], token)
		if len(s.subs[ks]) == 0 {
			delete(s.subs, ks)
		}
	}
}

// StartFlight enforces the at-most-one-in-flight-per-key invariant.
// If no fetch for key is running, a new flight is returned with
// started=true and the caller must execute the producer and settle the
// flight via FinishFlight on every path. Otherwise the existing flight is
// returned with started=false; the caller waits on Done and shares its
// result.
func (s *Store) StartFlight(key Key) (*Flight, bool) {
	ks := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.flights[ks]; ok {
		FlightJoins.Inc()
		return f, false
	}

	f := newFlight(key)
	s.flights[ks] = f

	// Create the entry on first read attempt so observers of the key see
	// the in-flight transition.
	if _, ok := s.entries[ks]; !ok {
		s.entries[ks] = &storeEntry{
			entry:   Entry{Key: key},
			touched: time.Now(),
		}
		CacheEntries.Set(float64(len(s.entries)))
	}

	return f, true
}

// FinishFlight settles a flight. On success the value is written through
// Set; on failure the in-flight flag is cleared and subscribers are
// notified so joined observers settle too. Cached data survives failures.
func (s *Store) FinishFlight(ctx context.Context, f *Flight, value any, err error) {
	ks := f.Key().String()

	s.mu.Lock()
	if s.flights[ks] == f {
		delete(s.flights, ks)
	}
	s.mu.Unlock()

	if err == nil {
		now := time.Now()
		s.setAt(ctx, f.Key(), value, now)
		f.settle(value, nil, now)
		return
	}

	s.mu.Lock()
	var entry Entry
	var callbacks []func(Entry)
	if se, ok := s.entries[ks]; ok {
		se.touched = time.Now()
		entry = se.entry
		callbacks = s.subscribersLocked(ks)
	}
	s.mu.Unlock()

	f.settle(nil, err, time.Time{})
	for _, cb := range callbacks {
		cb(entry)
	}
}

// Close stops the janitor and the remote invalidation listener.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopJan)
	if s.redis != nil {
		s.redis.close()
	}
	s.janWG.Wait()
}

// subscribersLocked snapshots the callback list for a key. Callers must
// hold s.mu; callbacks are invoked after it is released so subscribers may
// call back into the store.
func (s *Store) subscribersLocked(ks string) []func(Entry) {
	if len(s.subs[ks]) == 0 {
		return nil
	}
	callbacks := make([]func(Entry), 0, len(s.subs[ks]))
	for _, cb := range s.subs[ks] {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

// janitor evicts entries whose cacheTime elapsed with no observers.
func (s *Store) janitor() {
	defer s.janWG.Done()

	interval := s.cacheTime / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for ks, se := range s.entries {
		if len(s.subs[ks]) > 0 || s.flights[ks] != nil {
			continue
		}
		retention := s.cacheTime
		if r, ok := s.retentions[ks]; ok {
			retention = r
		}
		if time.Since(se.touched) > retention {
			delete(s.entries, ks)
			delete(s.retentions, ks)
			evicted++
		}
	}
	if evicted > 0 {
		CacheEvictions.Add(float64(evicted))
		CacheEntries.Set(float64(len(s.entries)))
		s.logger.Debug().Int("evicted", evicted).Msg("Janitor sweep complete")
	}
}

// listenRemoteInvalidations applies invalidation events published by peer
// processes sharing the redis tier. Events originated by this store are
// skipped.
func (s *Store) listenRemoteInvalidations() {
	defer s.janWG.Done()

	events := s.redis.subscribeInvalidations()
	for {
		select {
		case <-s.stopJan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Origin == s.id {
				continue
			}
			s.logger.Debug().
				Str("pattern", ev.Pattern.String()).
				Msg("Applying remote invalidation")
			s.invalidateLocal([]Key{ev.Pattern}, "remote")
		}
	}
}
