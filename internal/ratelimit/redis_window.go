package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const windowKeyPrefix = "widgetchat:ratelimit:"

// RedisWindow is a fixed-window counter shared by every instance.
type RedisWindow struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow allows limit requests per key per window.
func NewRedisWindow(redisClient *redis.Client, limit int, window time.Duration) *RedisWindow {
	if redisClient == nil {
		panic("ratelimit: redis client cannot be nil")
	}
	return &RedisWindow{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := w.now()
	slot := now.Truncate(w.window)
	redisKey := fmt.Sprintf("%s%s:%d", windowKeyPrefix, key, slot.Unix())

	pipe := w.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit: redis window: %w", err)
	}

	if incr.Val() > w.limit {
		return Decision{Allowed: false, RetryAfter: slot.Add(w.window).Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
