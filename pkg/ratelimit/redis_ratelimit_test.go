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

func newRedisLimiter(t *testing.T) (*RedisRateLimiter, time.Time) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRedisRateLimiter(client, "ratelimit:test:")
	base := time.Now()
	limiter.now = func() time.Time { return base }
	return limiter, base
}

func TestRedisRateLimiter_BucketDrainsAndRefills(t *testing.T) {
	limiter, base := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, info, err := limiter.AllowWithInfo(ctx, "player:alice", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info, err := limiter.AllowWithInfo(ctx, "player:alice", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)

	// A third of the window refills one token
	limiter.now = func() time.Time { return base.Add(20 * time.Second) }
	allowed, err = limiter.Allow(ctx, "player:alice", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "player:alice", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "player:alice", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "player:alice", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "player:bob", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_ResetRestoresBucket(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "player:alice", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "player:alice", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "player:alice"))

	allowed, err = limiter.Allow(ctx, "player:alice", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
