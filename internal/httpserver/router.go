package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"slidegate/internal/handlers"
	"slidegate/internal/metrics"
	"slidegate/internal/middleware"
)

type Options struct {
	// RequestTimeout bounds one request. Default 90s, long enough for a
	// generation with its degraded retry.
	RequestTimeout time.Duration
	// MaxBodyBytes caps request bodies. Default 64 KB.
	MaxBodyBytes int64
	// HealthChecks run on every /healthz request.
	HealthChecks []HealthCheck
}

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, slideHandler *handlers.SlideHandler, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/slides", slideHandler.GenerateSlide)

		r.Route("/lessons", func(r chi.Router) {
			r.Post("/", slideHandler.CreateLesson)
			r.Route("/{lessonID}", func(r chi.Router) {
				r.Get("/", slideHandler.GetLesson)
				r.Delete("/", slideHandler.DeleteLesson)
				r.Get("/progress", slideHandler.Progress)
				r.Get("/slides/{index}", slideHandler.LessonSlide)
				r.Delete("/slides/{index}", slideHandler.RegenerateSlide)
			})
		})
	})

	r.Get("/healthz", healthHandler(opts.HealthChecks))

	r.Handle("/metrics", metrics.Handler())
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		var failed []string
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				failed = append(failed, hc.Name+": "+err.Error())
			}
		}
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy\n" + strings.Join(failed, "\n")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
