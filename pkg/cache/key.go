package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a cached resource as an ordered sequence of primitive
// parts. Equal sequences denote the same cache entry; a shorter key acts
// as an invalidation pattern for every longer key it is a prefix of
// (NewKey("users") covers NewKey("users", 5)).
type Key []string

// NewKey builds a key from primitive parts. Strings, integers, floats and
// booleans are normalized to a canonical string form so that
// NewKey("users", 5) and NewKey("users", int64(5)) are equal.
func NewKey(parts ...any) Key {
	key := make(Key, 0, len(parts))
	for _, part := range parts {
		key = append(key, normalizePart(part))
	}
	return key
}

func normalizePart(part any) string {
	switch v := part.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// String generates a deterministic string form of the key.
// Format: part1:part2:...
//
// Example:
//
//	NewKey("users", 5).String() == "users:5"
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Equal reports whether two keys denote the same cache entry.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether pattern matches this key: either the two are
// equal, or pattern is a strict prefix of the longer key.
func (k Key) HasPrefix(pattern Key) bool {
	if len(pattern) > len(k) {
		return false
	}
	for i := range pattern {
		if k[i] != pattern[i] {
			return false
		}
	}
	return true
}
