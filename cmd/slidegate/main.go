package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"slidegate/internal/cache"
	"slidegate/internal/config"
	"slidegate/internal/generation"
	"slidegate/internal/handlers"
	"slidegate/internal/httpserver"
	"slidegate/internal/images"
	"slidegate/internal/llm"
	"slidegate/internal/metrics"
	"slidegate/internal/service"
	"slidegate/internal/store"
	"slidegate/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("slidegate exited with error: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	// ----- Config -----
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logging.SetDefault(logger)

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("llm_base_url", cfg.LLMBaseURL),
		zap.String("llm_model", cfg.LLMModel),
		zap.Bool("prefetch", cfg.PrefetchEnabled),
	)

	// ----- Lesson store -----
	db, err := store.Open(ctx, store.DBConfig{Driver: cfg.DBDriver, DSN: cfg.DBDSN}, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	lessons := store.NewLessonStore(db)
	if err := lessons.Migrate(ctx); err != nil {
		return err
	}

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	// ----- Shared tier + coordinator -----
	shared := cache.NewStore(cache.StoreConfig{
		Backend: cfg.CacheBackend,
		Prefix:  "slidegate",
	}, redisClient, logger)
	defer shared.Close()

	coord, err := cache.NewCoordinator(cache.Config{
		TTL:           cfg.CacheTTL,
		FallbackTTL:   cfg.CacheFallbackTTL,
		MaxEntries:    cfg.CacheMaxEntries,
		MaxInFlight:   cfg.CacheMaxInFlight,
		SweepInterval: cfg.CacheSweepInterval,
	}, lessons, logger)
	if err != nil {
		return err
	}
	defer coord.Close()

	// ----- Generation -----
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	generator := generation.NewBreakerGenerator(
		generation.NewLLMGenerator(llmClient, cfg.LLMModel),
		generation.BreakerConfig{},
		logger,
	)
	finder := images.NewWikimediaFinder(images.WikimediaConfig{
		BaseURL:    cfg.ImageBaseURL,
		Timeout:    cfg.ImageTimeout,
		RatePerSec: cfg.ImageRatePerSec,
	})
	invoker := generation.NewInvoker(generator, finder, generation.InvokerConfig{
		AttemptTimeout: cfg.GenerationAttemptTimeout,
		ImageTimeout:   cfg.ImageTimeout,
	}, logger)

	svc := service.New(coord, shared, invoker, lessons, service.Config{
		SharedTTL:       cfg.CacheTTL,
		Prefetch:        cfg.PrefetchEnabled,
		PrefetchWorkers: cfg.PrefetchWorkers,
	}, logger)
	defer svc.Close()

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewSlideHandler(svc), httpserver.Options{
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "generator", Check: generator.Check},
			{Name: "shared_tier", Check: shared.Ping},
		},
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting slidegate", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-stop:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
