// Package observable provides a minimal reactive cell: a current value
// plus a subscriber list notified synchronously on change. Runners expose
// their live state through it so presentation layers can read reactively.
package observable

import "sync"

// Value holds a current value of type T and notifies subscribers on Set.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[int]func(T)
	nextID  int
}

// New creates a Value with the given initial state.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		subs:    make(map[int]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set replaces the current value and notifies every subscriber
// synchronously, outside the lock so callbacks may call back in.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	callbacks := make([]func(T), 0, len(v.subs))
	for _, cb := range v.subs {
		callbacks = append(callbacks, cb)
	}
	v.mu.Unlock()

	for _, cb := range callbacks {
		cb(next)
	}
}

// Update applies fn to the current value under the lock, then notifies
// subscribers with the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	v.current = fn(v.current)
	next := v.current
	callbacks := make([]func(T), 0, len(v.subs))
	for _, cb := range v.subs {
		callbacks = append(callbacks, cb)
	}
	v.mu.Unlock()

	for _, cb := range callbacks {
		cb(next)
	}
	return next
}

// Subscribe registers fn for change notifications and returns an
// unsubscribe function.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.subs[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}
