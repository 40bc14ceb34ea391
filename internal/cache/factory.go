package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string
	// CleanupInterval of the memory backend.
	CleanupInterval time.Duration
	Prefix          string
}

// NewStore picks the shared tier backend and wraps it with logging and
// metrics. redisClient is only used by the redis backend.
func NewStore(cfg StoreConfig, redisClient *redis.Client, logger *zap.Logger) *LoggingStore {
	var inner Store
	switch cfg.Backend {
	case "redis":
		inner = NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		inner = NewMemoryStore(cfg.CleanupInterval)
	}
	return NewLoggingStore(inner, logger)
}
