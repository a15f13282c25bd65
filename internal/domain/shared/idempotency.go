package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which sync units of work have already been applied.
// Keys are opaque; callers build them from the source record identity and its
// modification stamp so that a changed record is processed again.
type IdempotencyStore interface {
	// MarkProcessed records key with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is present and not expired.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the store.
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a processed key is remembered.
	// Default: 7 days, longer than the widest sync lookback window.
	TTL time.Duration

	// Enabled determines whether idempotency checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     7 * 24 * time.Hour,
		Enabled: true,
	}
}
