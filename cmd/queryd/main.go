// queryd is a demonstration service: the list-view and form surfaces of
// the original UI, rendered as HTTP endpoints. GET /users serves a query
// runner on key ["users"]; POST /users runs a mutation runner that
// invalidates ["users"] so the list refetches on its next read.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/queryflow/queryflow/pkg/cache"
	"github.com/queryflow/queryflow/pkg/client"
	"github.com/queryflow/queryflow/pkg/logging"
	"github.com/queryflow/queryflow/pkg/mutation"
	"github.com/queryflow/queryflow/pkg/query"
)

type config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	UpstreamURL string        `env:"UPSTREAM_URL,required"`
	RedisURL    string        `env:"REDIS_URL"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool          `env:"LOG_PRETTY" envDefault:"false"`
	StaleTime   time.Duration `env:"STALE_TIME" envDefault:"1m"`
	CacheTime   time.Duration `env:"CACHE_TIME" envDefault:"10m"`
}

// user mirrors the upstream resource shape.
type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		fallback := logging.Setup(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	storeOpts := []cache.Option{cache.WithCacheTime(cfg.CacheTime)}
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Redis tier enabled")
		storeOpts = append(storeOpts, cache.WithRedis(redisClient))
	}

	store := cache.NewStore(storeOpts...)
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	usersURL := cfg.UpstreamURL + "/users"

	// List view: one long-lived query runner feeding every GET /users.
	usersRunner := query.New(ctx, store, cache.NewKey("users"),
		client.GetJSON[[]user](httpClient, usersURL),
		query.Config{
			StaleTime: cfg.StaleTime,
			// Each page view counts as the environment regaining focus:
			// a stale list refetches in the background while the
			// last-known rows stay visible.
			RefetchOnResume: true,
			Retry:           &query.RetryPolicy{ShouldRetry: client.DefaultShouldRetry(query.DefaultMaxRetries)},
		})
	defer usersRunner.Close()

	// Form: creating a user invalidates the list so it refetches.
	createRunner := mutation.New(store, mutation.Config[user, user]{
		Executor:    client.PostJSON[user, user](httpClient, usersURL),
		Invalidates: []cache.Key{cache.NewKey("users")},
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/users", listUsersHandler(usersRunner))
	r.Post("/users/refresh", refreshUsersHandler(usersRunner))
	r.Get("/users/{id}", userDetailHandler(store, httpClient, usersURL, cfg.StaleTime))
	r.Post("/users", createUserHandler(createRunner))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Str("upstream", cfg.UpstreamURL).Msg("Starting queryd")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Shutdown complete")
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// listUsersHandler serves the shared list runner. Each request counts as
// a resume, so a stale list refetches in the background while the
// last-known rows are served immediately.
func listUsersHandler(runner *query.Runner[[]user]) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		runner.Resume()
		writeSnapshot(w, awaitSettled(req.Context(), runner))
	}
}

func refreshUsersHandler(runner *query.Runner[[]user]) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		runner.Refetch(req.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}

// userDetailHandler builds a short-lived runner per request. Repeated
// requests for the same id still share the store, so a fresh entry is
// served without touching the upstream.
func userDetailHandler(store *cache.Store, httpClient *http.Client, usersURL string, staleTime time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		runner := query.New(req.Context(), store, cache.NewKey("users", id),
			client.GetJSON[user](httpClient, usersURL+"/"+id),
			query.Config{StaleTime: staleTime})
		defer runner.Close()

		writeSnapshot(w, awaitSettled(req.Context(), runner))
	}
}

func createUserHandler(runner *mutation.Runner[user, user]) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var u user
		if err := json.NewDecoder(req.Body).Decode(&u); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}

		created, err := runner.MutateAsync(req.Context(), u)
		if err != nil {
			status := http.StatusBadGateway
			var httpErr *client.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
				status = httpErr.StatusCode
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	}
}

// writeSnapshot renders a query snapshot the way the original list view
// consumed its observables.
func writeSnapshot[T any](w http.ResponseWriter, snap query.Snapshot[T]) {
	w.Header().Set("Content-Type", "application/json")

	resp := map[string]any{
		"status":     string(snap.Status),
		"isFetching": snap.IsFetching,
	}
	switch snap.Status {
	case query.StatusSuccess:
		resp["data"] = snap.Data
	case query.StatusError:
		resp["error"] = snap.Err.Error()
		w.WriteHeader(http.StatusBadGateway)
	case query.StatusPending:
		w.WriteHeader(http.StatusAccepted)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// awaitSettled blocks until the runner leaves pending or the request is
// cancelled. A stale value still in background refresh is served
// immediately (stale-while-revalidate).
func awaitSettled[T any](ctx context.Context, runner *query.Runner[T]) query.Snapshot[T] {
	settled := make(chan query.Snapshot[T], 1)
	unsub := runner.Subscribe(func(s query.Snapshot[T]) {
		if s.IsSuccess() || s.IsError() {
			select {
			case settled <- s:
			default:
			}
		}
	})
	defer unsub()

	if s := runner.State(); s.IsSuccess() || s.IsError() {
		return s
	}

	select {
	case s := <-settled:
		return s
	case <-ctx.Done():
		return runner.State()
	}
}
