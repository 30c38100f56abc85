package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryflow/queryflow/internal/testutil"
	"github.com/queryflow/queryflow/pkg/cache"
	"github.com/queryflow/queryflow/pkg/client"
	"github.com/queryflow/queryflow/pkg/mutation"
	"github.com/queryflow/queryflow/pkg/query"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", string(body))
	}
}

func TestListUsersHandler(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/users", testutil.NewJSONResponse(`[{"id": "1", "name": "alice"}]`))

	store := cache.NewStore()
	defer store.Close()

	runner := query.New(context.Background(), store, cache.NewKey("users"),
		client.GetJSON[[]user](nil, mock.URL()+"/users"),
		query.Config{StaleTime: time.Minute})
	defer runner.Close()

	handler := listUsersHandler(runner)

	req := httptest.NewRequest("GET", "/users", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
		Data   []user `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "success" {
		t.Errorf("status field = %q, want success", payload.Status)
	}
	if len(payload.Data) != 1 || payload.Data[0].Name != "alice" {
		t.Errorf("data = %+v", payload.Data)
	}
}

func TestListUsersHandler_UpstreamError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/users", testutil.NewServerErrorResponse())

	store := cache.NewStore()
	defer store.Close()

	runner := query.New(context.Background(), store, cache.NewKey("users"),
		client.GetJSON[[]user](nil, mock.URL()+"/users"),
		query.Config{
			StaleTime: time.Minute,
			Retry:     &query.RetryPolicy{MaxRetries: 0},
		})
	defer runner.Close()

	req := httptest.NewRequest("GET", "/users", nil)
	w := httptest.NewRecorder()
	listUsersHandler(runner)(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestUserDetailHandler(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/users/7", testutil.NewJSONResponse(`{"id": "7", "name": "bob"}`))

	store := cache.NewStore()
	defer store.Close()

	r := chi.NewRouter()
	r.Get("/users/{id}", userDetailHandler(store, nil, mock.URL()+"/users", time.Minute))

	// First request fetches from upstream.
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest("GET", "/users/7", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}
	if mock.RequestCount("/users/7") != 1 {
		t.Errorf("upstream requests = %d, want 1", mock.RequestCount("/users/7"))
	}

	// Second request is served from the fresh cache entry.
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/users/7", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("second request status = %d, want 200", w2.Code)
	}
	if mock.RequestCount("/users/7") != 1 {
		t.Errorf("upstream requests after cache hit = %d, want 1", mock.RequestCount("/users/7"))
	}
}

func TestCreateUserHandler(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/users", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	})

	store := cache.NewStore()
	defer store.Close()
	store.Set(context.Background(), cache.NewKey("users"), []user{{ID: "1", Name: "alice"}})

	runner := mutation.New(store, mutation.Config[user, user]{
		Executor:    client.PostJSON[user, user](nil, mock.URL()+"/users"),
		Invalidates: []cache.Key{cache.NewKey("users")},
	})

	req := httptest.NewRequest("POST", "/users", strings.NewReader(`{"name": "carol"}`))
	w := httptest.NewRecorder()
	createUserHandler(runner)(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created user
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Name != "carol" {
		t.Errorf("created name = %q, want carol", created.Name)
	}
	if created.ID == "" {
		t.Error("missing ID should be filled with a generated one")
	}

	// The successful mutation invalidated the list key.
	entry, ok := store.Get(context.Background(), cache.NewKey("users"))
	if !ok || !entry.FetchedAt.IsZero() {
		t.Error("users list should be marked stale after create")
	}
}

func TestCreateUserHandler_InvalidBody(t *testing.T) {
	store := cache.NewStore()
	defer store.Close()

	runner := mutation.New(store, mutation.Config[user, user]{
		Executor: func(ctx context.Context, u user) (user, error) {
			t.Error("executor must not run on invalid body")
			return u, nil
		},
	})

	req := httptest.NewRequest("POST", "/users", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	createUserHandler(runner)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	// Touch the store so cache metrics are registered and populated.
	store := cache.NewStore()
	defer store.Close()
	store.Set(context.Background(), cache.NewKey("probe"), "v")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "queryflow_cache_entries") {
		t.Error("expected metrics output to contain queryflow_cache_entries")
	}
}
