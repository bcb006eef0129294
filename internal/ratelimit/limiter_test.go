package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenRefill(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := tb.Allow(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := tb.Allow(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	other, _ := tb.Allow(ctx, "s2")
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(time.Second)
	d, _ = tb.Allow(ctx, "s1")
	assert.True(t, d.Allowed)
}

func TestTokenBucketEvict(t *testing.T) {
	tb := NewTokenBucket(60, 1)
	_, _ = tb.Allow(context.Background(), "old")
	assert.Equal(t, 1, tb.Evict(time.Now().Add(time.Minute)))
	assert.Empty(t, tb.buckets)
}

func TestRedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	w := NewRedisWindow(client, 2, time.Minute)
	w.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC) }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := w.Allow(ctx, "tenant#s1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := w.Allow(ctx, "tenant#s1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	w.now = func() time.Time { return time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC) }
	d, err = w.Allow(ctx, "tenant#s1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window")
}

func TestRedisWindowFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	w := NewRedisWindow(client, 1, time.Minute)
	mr.Close()

	d, err := w.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}
