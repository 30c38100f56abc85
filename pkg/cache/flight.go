package cache

import (
	"sync"
	"time"
)

// Flight represents a single in-flight fetch for a key. The runner that
// starts a flight executes the producer and settles the flight; any number
// of concurrent runners for the same key join it and share the one result.
type Flight struct {
	key  Key
	done chan struct{}

	mu        sync.Mutex
	value     any
	err       error
	fetchedAt time.Time
}

func newFlight(key Key) *Flight {
	return &Flight{
		key:  key,
		done: make(chan struct{}),
	}
}

// Key returns the key this flight is fetching.
func (f *Flight) Key() Key {
	return f.key
}

// Done returns a channel that is closed when the flight settles.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Result returns the flight's outcome. Valid only after Done is closed.
func (f *Flight) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// FetchedAt returns when the flight's value was stored, matching the
// cache entry's timestamp so joiners and the starter report the same
// fetch time. Valid only after Done is closed; zero for failed flights.
func (f *Flight) FetchedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchedAt
}

// settle records the outcome and releases all joiners. Idempotent calls
// after the first are ignored.
func (f *Flight) settle(value any, err error, fetchedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.value = value
	f.err = err
	f.fetchedAt = fetchedAt
	close(f.done)
}
