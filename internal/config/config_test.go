package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessDefaults(t *testing.T) {
	cfg, err := process(context.Background(), envconfig.MapLookuper(map[string]string{
		"LLM_API_KEY": "sk-test",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, time.Minute, cfg.CacheFallbackTTL)
	assert.Equal(t, 10000, cfg.CacheMaxEntries)
	assert.EqualValues(t, 8, cfg.CacheMaxInFlight)
	assert.Equal(t, 30*time.Second, cfg.GenerationAttemptTimeout)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.True(t, cfg.PrefetchEnabled)
	assert.InDelta(t, 5.0, cfg.ImageRatePerSec, 0.001)
}

func TestProcessOverrides(t *testing.T) {
	cfg, err := process(context.Background(), envconfig.MapLookuper(map[string]string{
		"LLM_API_KEY":                "sk-test",
		"CACHE_BACKEND":              "redis",
		"CACHE_TTL":                  "2h",
		"GENERATION_ATTEMPT_TIMEOUT": "10s",
		"REQUEST_TIMEOUT":            "25s",
		"PREFETCH_ENABLED":           "false",
		"DB_DRIVER":                  "mysql",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.GenerationAttemptTimeout)
	assert.False(t, cfg.PrefetchEnabled)
	assert.Equal(t, "mysql", cfg.DBDriver)
}

func TestValidateCollectsErrors(t *testing.T) {
	_, err := process(context.Background(), envconfig.MapLookuper(map[string]string{
		"CACHE_BACKEND":   "memcached",
		"REQUEST_TIMEOUT": "5s",
	}))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "LLM_API_KEY is required")
	assert.Contains(t, msg, "CACHE_BACKEND")
	assert.Contains(t, msg, "REQUEST_TIMEOUT")
}

func TestProcessRejectsMalformedDuration(t *testing.T) {
	_, err := process(context.Background(), envconfig.MapLookuper(map[string]string{
		"LLM_API_KEY": "sk-test",
		"CACHE_TTL":   "soon",
	}))
	assert.Error(t, err)
}
