package cache

import (
	"context"
	"time"
)

// Store is the shared slide tier consulted before generating. It outlives a
// single process when backed by Redis.
// Implemented by MemoryStore (dev) and RedisStore (prod).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
