package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisKeyPrefix  = "queryflow:entry:"
	redisInvChannel = "queryflow:invalidate"
)

// redisTier is the optional second cache tier: entries are persisted as
// JSON with a TTL so peer processes (and restarts) share warm data, and
// invalidation patterns fan out over pub/sub.
//
// Subscriptions stay process-local; the redis tier only carries values
// and invalidation events.
type redisTier struct {
	client *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
	logger zerolog.Logger
}

// invalidationEvent is the pub/sub payload for cross-process invalidation.
type invalidationEvent struct {
	Origin  string `json:"origin"`
	Pattern Key    `json:"pattern"`
}

func newRedisTier(client *redis.Client, logger zerolog.Logger) *redisTier {
	return &redisTier{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (t *redisTier) get(ctx context.Context, key Key) (Entry, bool) {
	data, err := t.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			CacheErrors.WithLabelValues("get").Inc()
			t.logger.Warn().Err(err).Str("key", key.String()).Msg("Redis get failed")
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		t.logger.Warn().Err(err).Str("key", key.String()).Msg("Invalid redis cache entry")
		return Entry{}, false
	}
	return entry, true
}

// set writes the entry through to redis with TTL. Failures are logged and
// counted but never surface to callers: the local tier remains correct.
func (t *redisTier) set(ctx context.Context, key Key, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		t.logger.Warn().Err(err).Str("key", key.String()).Msg("Marshal cache entry failed")
		return
	}

	if err := t.client.Set(ctx, redisKeyPrefix+key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		t.logger.Warn().Err(err).Str("key", key.String()).Msg("Redis set failed")
	}
}

func (t *redisTier) publishInvalidation(ctx context.Context, origin string, pattern Key) {
	payload, err := json.Marshal(invalidationEvent{Origin: origin, Pattern: pattern})
	if err != nil {
		CacheErrors.WithLabelValues("publish").Inc()
		return
	}
	if err := t.client.Publish(ctx, redisInvChannel, payload).Err(); err != nil {
		CacheErrors.WithLabelValues("publish").Inc()
		t.logger.Warn().Err(err).Str("pattern", pattern.String()).Msg("Publish invalidation failed")
	}
}

// subscribeInvalidations returns a channel of decoded invalidation events.
// The channel closes when the tier is closed.
func (t *redisTier) subscribeInvalidations() <-chan invalidationEvent {
	t.pubsub = t.client.Subscribe(context.Background(), redisInvChannel)

	events := make(chan invalidationEvent)
	go func() {
		defer close(events)
		for msg := range t.pubsub.Channel() {
			var ev invalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.logger.Warn().Err(err).Msg("Invalid invalidation payload")
				continue
			}
			select {
			case events <- ev:
			case <-t.done:
				return
			}
		}
	}()
	return events
}

func (t *redisTier) close() {
	close(t.done)
	if t.pubsub != nil {
		_ = t.pubsub.Close()
	}
}
