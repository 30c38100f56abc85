package query

import (
	"encoding/json"
	"time"
)

// Status is the settled state of a query runner.
type Status string

const (
	// StatusIdle means the runner is disabled and has done nothing.
	StatusIdle Status = "idle"

	// StatusPending means no data has arrived yet.
	StatusPending Status = "pending"

	// StatusSuccess means the runner holds data (fresh or stale).
	StatusSuccess Status = "success"

	// StatusError means the last fetch settled with an error.
	StatusError Status = "error"
)

// Snapshot is the live, observable output of a runner. IsFetching is an
// overlay on any status denoting a background refresh in progress.
type Snapshot[T any] struct {
	Status     Status
	Data       T
	Err        error
	IsFetching bool

	// UpdatedAt is when Data was last fetched.
	UpdatedAt time.Time
}

// IsPending reports whether no data has arrived yet.
func (s Snapshot[T]) IsPending() bool { return s.Status == StatusPending }

// IsSuccess reports whether the runner holds data.
func (s Snapshot[T]) IsSuccess() bool { return s.Status == StatusSuccess }

// IsError reports whether the last fetch failed.
func (s Snapshot[T]) IsError() bool { return s.Status == StatusError }

// coerce converts a cached value back to T. Values set by a runner of the
// same type assert directly; values restored from the redis tier come
// back as decoded JSON and take the round-trip path.
func coerce[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}

	data, err := json.Marshal(value)
	if err != nil {
		var zero T
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}
