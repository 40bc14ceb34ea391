package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port     string `env:"PORT, default=8080"`
	Env      string `env:"ENV, default=production"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	CacheBackend       string        `env:"CACHE_BACKEND, default=memory"`
	RedisAddr          string        `env:"REDIS_ADDR, default=127.0.0.1:6379"`
	CacheTTL           time.Duration `env:"CACHE_TTL, default=1h"`
	CacheFallbackTTL   time.Duration `env:"CACHE_FALLBACK_TTL, default=1m"`
	CacheMaxEntries    int           `env:"CACHE_MAX_ENTRIES, default=10000"`
	CacheMaxInFlight   int64         `env:"CACHE_MAX_IN_FLIGHT, default=8"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL, default=1m"`

	LLMBaseURL               string        `env:"LLM_BASE_URL, default=https://api.openai.com"`
	LLMAPIKey                string        `env:"LLM_API_KEY"`
	LLMModel                 string        `env:"LLM_MODEL, default=gpt-4o-mini"`
	GenerationAttemptTimeout time.Duration `env:"GENERATION_ATTEMPT_TIMEOUT, default=30s"`

	ImageBaseURL    string        `env:"IMAGE_BASE_URL, default=https://commons.wikimedia.org"`
	ImageTimeout    time.Duration `env:"IMAGE_TIMEOUT, default=8s"`
	ImageRatePerSec float64       `env:"IMAGE_RATE_PER_SEC, default=5"`

	DBDriver string `env:"DB_DRIVER, default=sqlite"`
	DBDSN    string `env:"DB_DSN, default=file:slidegate.db"`

	PrefetchEnabled bool `env:"PREFETCH_ENABLED, default=true"`
	PrefetchWorkers int  `env:"PREFETCH_WORKERS, default=2"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT, default=90s"`
}

// Load reads an optional .env file, then the environment.
func Load(ctx context.Context) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return process(ctx, envconfig.OsLookuper())
}

func process(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.LLMAPIKey) == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend))
	}
	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.CacheFallbackTTL <= 0 || c.CacheFallbackTTL > c.CacheTTL {
		errs = append(errs, errors.New("CACHE_FALLBACK_TTL must be positive and not exceed CACHE_TTL"))
	}
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_ENTRIES must be positive"))
	}
	if c.CacheMaxInFlight <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_IN_FLIGHT must be positive"))
	}
	if c.GenerationAttemptTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_ATTEMPT_TIMEOUT must be positive"))
	}
	// two attempts plus image lookup must fit in one request
	if c.RequestTimeout < 2*c.GenerationAttemptTimeout {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be at least twice GENERATION_ATTEMPT_TIMEOUT"))
	}
	if c.PrefetchEnabled && c.PrefetchWorkers <= 0 {
		errs = append(errs, errors.New("PREFETCH_WORKERS must be positive when prefetch is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
