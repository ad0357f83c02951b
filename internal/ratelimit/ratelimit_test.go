package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lavente/identitycore/internal/ratelimit"
)

func TestMemoryLimiter_EnforcesBurst(t *testing.T) {
	l := ratelimit.NewMemoryLimiter(rate.Every(time.Minute), 2)
	defer l.Close()
	ctx := context.Background()

	ok, err := l.Allow(ctx, "principal-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "principal-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "principal-a")
	require.NoError(t, err)
	assert.False(t, ok, "third call within the same window should be denied")
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := ratelimit.NewMemoryLimiter(rate.Every(time.Minute), 1)
	defer l.Close()
	ctx := context.Background()

	ok, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "a different key should have its own budget")
}

func TestRedisLimiter_EnforcesWindowedLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := ratelimit.NewRedisLimiter(client, "test:reset", 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok, "a different key should not share the window")
}
