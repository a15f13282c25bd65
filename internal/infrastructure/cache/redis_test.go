package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return config.RedisConfig{Enabled: true, Host: host, Port: port.Int()}
}

func TestRedisStores(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	stores, err := NewStoreFactory(cfg).Create(ctx)
	require.NoError(t, err)
	defer stores.Close()
	require.Equal(t, "redis", stores.Backend)

	t.Run("idempotency", func(t *testing.T) {
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := stores.Idempotency.MarkProcessed(ctx, "pull:7:2025-06-01T00:00:00Z", time.Minute); err == nil && ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())

		processed, err := stores.Idempotency.IsProcessed(ctx, "pull:7:2025-06-01T00:00:00Z")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("lock", func(t *testing.T) {
		lock, err := stores.Locker.Obtain(ctx, "sync:push", time.Minute)
		require.NoError(t, err)

		_, err = stores.Locker.Obtain(ctx, "sync:push", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotObtained)

		require.NoError(t, lock.Release(ctx))
		require.NoError(t, lock.Release(ctx))

		lock, err = stores.Locker.Obtain(ctx, "sync:push", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
	})
}
