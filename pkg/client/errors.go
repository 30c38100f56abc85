package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures before any status
	// arrived, plus decode failures.
	ErrorClassNetwork ErrorClass = "network"
)

// HTTPError is the transport-error half of the taxonomy: a non-2xx
// response. Anything else a producer or executor returns (network
// failure, decode failure, arbitrary executor error) stays a plain error.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %s", e.Status)
}

// Classify categorizes an error for retry decisions and observability.
func Classify(err error) ErrorClass {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return ErrorClassServer
		}
		return ErrorClassClient
	}
	return ErrorClassNetwork
}

// DefaultShouldRetry is a retry predicate for HTTP producers: server and
// network errors are retried, client errors are not (a 404 stays a 404).
// Combine with a failure-count cap via query.RetryPolicy.
func DefaultShouldRetry(maxRetries int) func(failures int, err error) bool {
	return func(failures int, err error) bool {
		if failures > maxRetries {
			return false
		}
		return Classify(err) != ErrorClassClient
	}
}
