package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

// IdempotencyGuard deduplicates webhook deliveries by provider event id.
// Providers redeliver on any non-2xx (and sometimes on 2xx), so the first
// observation of an id wins and the rest are acknowledged without effect.
type IdempotencyGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyGuard(rdb *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{rdb: rdb, ttl: idempotencyTTL}
}

// FirstObservation atomically records the event id and reports whether this
// call was the first to see it. A redis failure counts as a first
// observation; processing twice is recoverable, dropping an event is not.
func (g *IdempotencyGuard) FirstObservation(ctx context.Context, source, eventID string) bool {
	if g.rdb == nil || eventID == "" {
		return true
	}
	ok, err := g.rdb.SetNX(ctx, seenKey(source, eventID), 1, g.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Forget releases an event id so the provider's redelivery is processed
// again. Called when processing fails after the first observation was
// recorded; without it the retry of a failed event would be swallowed as a
// duplicate.
func (g *IdempotencyGuard) Forget(ctx context.Context, source, eventID string) {
	if g == nil || g.rdb == nil || eventID == "" {
		return
	}
	g.rdb.Del(ctx, seenKey(source, eventID))
}

func seenKey(source, eventID string) string {
	return "webhook:seen:" + source + ":" + eventID
}
