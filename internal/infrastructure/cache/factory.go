package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/shared"
	"github.com/o2o/erpsync/internal/infrastructure/config"
)

// StoreFactory creates the idempotency store and sync locker for the configured backend
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	dial                  func(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error)
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		dial: func(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
			client, err := NewRedisClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stores bundles the components built on one backend
type Stores struct {
	Idempotency shared.IdempotencyStore
	Locker      Locker
	Backend     string // redis or memory
}

// Close releases the idempotency store, and with it the Redis client
func (s *Stores) Close() error {
	return s.Idempotency.Close()
}

// Create builds Redis backed stores when Redis is enabled and reachable.
// Otherwise it falls back to in-memory stores if allowed.
func (f *StoreFactory) Create(ctx context.Context) (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory idempotency store and local sync lock")
		return f.inMemory(), nil
	}

	client, err := f.dial(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis idempotency store and distributed sync lock",
			zap.String("addr", f.redisConfig.Addr()))
		store := NewRedisIdempotencyStore(client, "")
		store.ownClient = true
		return &Stores{
			Idempotency: store,
			Locker:      NewRedisLocker(client, ""),
			Backend:     "redis",
		}, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. "+
		"Sync runs are not coordinated across instances.",
		zap.Error(err),
	)
	return f.inMemory(), nil
}

func (f *StoreFactory) inMemory() *Stores {
	return &Stores{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewLocalLocker(),
		Backend:     "memory",
	}
}
