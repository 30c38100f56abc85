package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/queryflow/queryflow/pkg/cache"
	"github.com/queryflow/queryflow/pkg/query"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestRedisTierWarmGet tests that a second store instance sharing the same
// Redis restores entries written through by the first.
func TestRedisTierWarmGet(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	key := cache.NewKey("users", 42)

	storeA := cache.NewStore(cache.WithRedis(redisClient))
	defer storeA.Close()

	storeA.Set(ctx, key, map[string]any{"id": 42, "name": "alice"})

	// Write-through is synchronous, but give pub/sub subscriptions a moment.
	time.Sleep(100 * time.Millisecond)

	storeB := cache.NewStore(cache.WithRedis(redisClient))
	defer storeB.Close()

	entry, ok := storeB.Get(ctx, key)
	if !ok {
		t.Fatal("store B should restore the entry from the shared Redis tier")
	}
	if !entry.HasValue {
		t.Error("restored entry should carry a value")
	}
	if entry.FetchedAt.IsZero() {
		t.Error("restored entry should keep its fetch timestamp")
	}

	restored, isMap := entry.Value.(map[string]any)
	if !isMap {
		t.Fatalf("restored value type = %T, want map from JSON decode", entry.Value)
	}
	if restored["name"] != "alice" {
		t.Errorf("restored name = %v, want alice", restored["name"])
	}
}

// TestCrossProcessInvalidation tests that an Invalidate on one store
// reaches a second store via Redis pub/sub.
func TestCrossProcessInvalidation(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	key := cache.NewKey("users")

	storeA := cache.NewStore(cache.WithRedis(redisClient))
	defer storeA.Close()
	storeB := cache.NewStore(cache.WithRedis(redisClient))
	defer storeB.Close()

	// Both stores hold the entry locally.
	storeA.Set(ctx, key, "list-v1")
	storeB.Set(ctx, key, "list-v1")

	// Give the pub/sub subscriptions time to establish.
	time.Sleep(200 * time.Millisecond)

	storeA.Invalidate(ctx, key)

	deadline := time.Now().Add(3 * time.Second)
	for {
		entry, ok := storeB.Get(ctx, key)
		if ok && entry.FetchedAt.IsZero() {
			if !entry.HasValue {
				t.Error("invalidation should keep the stale value for display")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("store B never observed the remote invalidation")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestRemoteInvalidationTriggersRefetch tests the full loop: a runner on
// store B refetches after store A invalidates its key.
func TestRemoteInvalidationTriggersRefetch(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	key := cache.NewKey("config")

	storeA := cache.NewStore(cache.WithRedis(redisClient))
	defer storeA.Close()
	storeB := cache.NewStore(cache.WithRedis(redisClient))
	defer storeB.Close()

	fetches := 0
	runner := query.New(ctx, storeB, key, func(ctx context.Context) (string, error) {
		fetches++
		if fetches == 1 {
			return "v1", nil
		}
		return "v2", nil
	}, query.Config{})
	defer runner.Close()

	waitFor(t, 3*time.Second, func() bool {
		snap := runner.State()
		return snap.IsSuccess() && snap.Data == "v1"
	})

	// Give the pub/sub subscriptions time to establish.
	time.Sleep(200 * time.Millisecond)

	storeA.Invalidate(ctx, key)

	waitFor(t, 3*time.Second, func() bool {
		return runner.State().Data == "v2"
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(25 * time.Millisecond)
	}
}
