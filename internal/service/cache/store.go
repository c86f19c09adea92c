package cache

import (
	"context"
	"time"
)

// Store is the backing key-value layer under the cache engine. Implementations
// must treat TTL as a hard upper bound; the engine applies the tighter
// confidence-weighted expiry on top.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Count(ctx context.Context) (int64, error)
	MemoryBytes(ctx context.Context) (int64, error)
	Close() error
}
