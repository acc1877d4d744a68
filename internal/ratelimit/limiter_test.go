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

func setupLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestAllow_WithinBudget(t *testing.T) {
	l, _ := setupLimiter(t, Config{Enabled: true, Max: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request exceeds the budget")

	// A different caller has its own counter.
	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_WindowResets(t *testing.T) {
	l, mr := setupLimiter(t, Config{Enabled: true, Max: 1, Window: time.Minute})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(time.Minute + time.Second)

	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "expired window starts a fresh count")
}

func TestAllow_DisabledGatePassesEverything(t *testing.T) {
	l, _ := setupLimiter(t, Config{Enabled: false, Max: 1, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestAllow_FailsOpenWhenRedisDown(t *testing.T) {
	l, mr := setupLimiter(t, Config{Enabled: true, Max: 1, Window: time.Minute})
	mr.Close()

	ok, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, ok, "gate failure must not take the handlers down with it")
}

func TestRemaining(t *testing.T) {
	l, _ := setupLimiter(t, Config{Enabled: true, Max: 5, Window: time.Minute})
	ctx := context.Background()

	left, err := l.Remaining(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 5, left)

	_, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	_, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)

	left, err = l.Remaining(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, left)
}
