package webhook

import (
	"context"
	"time"

	"creator-payments/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Marker remembers deliveries that were fully processed.
//
// It is a fast path only. The ledger's (reference, type) constraint and the
// guarded status transition stay authoritative, so a lost marker costs one
// extra idempotent pass and nothing more.
type Marker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type RedisMarker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMarker(rdb *redis.Client, ttl time.Duration) *RedisMarker {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisMarker{rdb: rdb, ttl: ttl}
}

func (m *RedisMarker) Seen(ctx context.Context, key string) (bool, error) {
	return utils.HasMarker(ctx, m.rdb, key)
}

func (m *RedisMarker) Mark(ctx context.Context, key string) error {
	_, err := utils.SetMarker(ctx, m.rdb, key, m.ttl)
	return err
}

func markerKey(event, reference string) string {
	return "webhook:processed:" + event + ":" + reference
}
