package cache

import (
	"time"
)

// Entry represents a cached value with its freshness metadata.
// Entries are owned by the Store; callers receive copies.
type Entry struct {
	// Key identifies the cached resource.
	Key Key `json:"key"`

	// Value is the last successfully fetched value.
	Value any `json:"value"`

	// HasValue reports whether Value has ever been set. A zero Value is a
	// legal cached result, so presence is tracked separately.
	HasValue bool `json:"has_value"`

	// FetchedAt is when Value was last fetched. The zero time means the
	// entry was never fetched or has been invalidated.
	FetchedAt time.Time `json:"fetched_at"`

	// IsFetching reports whether a fetch for this key is in flight.
	IsFetching bool `json:"is_fetching"`
}

// IsFresh returns true if the entry was fetched within staleTime.
// Invalidated entries are never fresh.
func (e Entry) IsFresh(staleTime time.Duration) bool {
	if e.FetchedAt.IsZero() {
		return false
	}
	return time.Since(e.FetchedAt) < staleTime
}

// IsStale returns true if the entry needs a refresh on next read.
func (e Entry) IsStale(staleTime time.Duration) bool {
	return !e.IsFresh(staleTime)
}

// Age returns the time since the entry was fetched.
// Returns 0 for entries that were never fetched.
func (e Entry) Age() time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return time.Since(e.FetchedAt)
}
