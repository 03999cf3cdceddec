//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/ocr-bench/internal/config"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return host + ":" + port.Port()
}

func TestRedisClientAndLocker(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(config.RedisConfig{Addr: addr, PoolSize: 4, Prefix: "test:"})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(ctx, LatestStatsKey("r1"), []byte(`{}`), time.Hour))
	got, err := client.Get(ctx, LatestStatsKey("r1"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)

	require.NoError(t, client.DeleteByPrefix(ctx, "stats:"))
	_, err = client.Get(ctx, LatestStatsKey("r1"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	locker := NewRedisLocker(client)
	release, err := locker.Acquire(ctx, "aggregate:recompute", 5*time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(short, "aggregate:recompute", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrLockNotHeld)
}

func TestRedisLockExpires(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client)
	stale, err := locker.Acquire(ctx, "expiring", 100*time.Millisecond)
	require.NoError(t, err)

	fresh, err := locker.Acquire(ctx, "expiring", time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, stale(ctx), ErrLockNotHeld, "expired holder must not release the new holder's lock")
	require.NoError(t, fresh(ctx))
}
