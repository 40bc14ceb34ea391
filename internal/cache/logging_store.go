package cache

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"slidegate/internal/metrics"
	"slidegate/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner  Store
	logger *zap.Logger
}

func NewLoggingStore(inner Store, logger *zap.Logger) *LoggingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingStore{inner: inner, logger: logger.Named("shared_tier")}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.SharedTierTotal.WithLabelValues(result).Inc()

	fields := append(keyFields(key),
		zap.String("cache_result", result),
		zap.Float64("latency_ms", sinceMs(start)),
	)
	logger := logging.Ctx(ctx, c.logger)
	if err != nil {
		logger.Error("shared_tier_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("shared_tier_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)

	fields := append(keyFields(key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", sinceMs(start)),
	)
	logger := logging.Ctx(ctx, c.logger)
	if err != nil {
		logger.Error("shared_tier_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("shared_tier_set", fields...)
	}

	return err
}

func (c *LoggingStore) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	if err != nil {
		logging.Ctx(ctx, c.logger).Error("shared_tier_delete", append(keyFields(key), zap.Error(err))...)
	}
	return err
}

func (c *LoggingStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := c.inner.DeletePrefix(ctx, prefix)
	logger := logging.Ctx(ctx, c.logger)
	if err != nil {
		logger.Error("shared_tier_delete_prefix", zap.String("prefix", prefix), zap.Int("removed", n), zap.Error(err))
	} else {
		logger.Info("shared_tier_delete_prefix", zap.String("prefix", prefix), zap.Int("removed", n))
	}
	return n, err
}

// Close releases the wrapped backend when it holds resources.
// Ping checks the backend when it supports it. A memory backend is always
// reachable.
func (c *LoggingStore) Ping(ctx context.Context) error {
	pinger, ok := c.inner.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		logging.Ctx(ctx, c.logger).Warn("shared_tier_ping", zap.Error(err))
		return err
	}
	return nil
}

func (c *LoggingStore) Close() error {
	if closer, ok := c.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func keyFields(key string) []zap.Field {
	fields := []zap.Field{zap.String("cache_key", key)}
	if k, ok := parseSlideKey(key); ok {
		fields = append(fields,
			zap.String("lesson_id", k.LessonID),
			zap.Int("slide_index", k.Index),
		)
	}
	return fields
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
