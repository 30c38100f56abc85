// Package testutil provides testing utilities for queryflow.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock upstream JSON API for testing producers
// and executors.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount map[string]int
	lastMethod   string
	lastBody     []byte
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:     make(map[string]http.HandlerFunc),
		requestCount: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount[r.URL.Path]++
		mock.lastMethod = r.Method
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = make(map[string]int)
	m.lastMethod = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to a path.
func (m *MockAPI) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount[path]
}

// LastMethod returns the HTTP method of the most recent request.
func (m *MockAPI) LastMethod() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMethod
}

// defaultHandler provides a default JSON response.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewJSONResponse creates a standard 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
	}
}
