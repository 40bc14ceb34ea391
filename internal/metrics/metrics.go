package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SlideLookupsTotal counts coordinator lookups by result:
	// hit, miss (this caller started the generation) or joined (attached to
	// an in-flight one).
	SlideLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegate_slide_lookups_total",
			Help: "Slide cache lookups by result.",
		},
		[]string{"result"},
	)

	// GenerationsTotal counts settled generations: ok, fallback or failed.
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegate_generations_total",
			Help: "Settled slide generations by outcome.",
		},
		[]string{"outcome"},
	)

	GenerationAttemptSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slidegate_generation_attempt_seconds",
			Help:    "Latency of a single generation attempt.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"attempt", "result"},
	)

	GenerationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slidegate_generations_in_flight",
			Help: "Generations currently holding a concurrency slot.",
		},
	)

	ParseStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegate_parse_strategy_total",
			Help: "Successful parses by recovery strategy.",
		},
		[]string{"strategy"},
	)

	ImageLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegate_image_lookups_total",
			Help: "Image lookups by result (found, placeholder).",
		},
		[]string{"result"},
	)

	PersistenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slidegate_persistence_errors_total",
			Help: "Write-through failures to the lesson store.",
		},
	)

	// SharedTierTotal counts shared tier (memory/redis) reads by result.
	SharedTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegate_shared_tier_total",
			Help: "Shared slide tier lookups by result.",
		},
		[]string{"result"},
	)

	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slidegate_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60},
		},
		[]string{"route", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SlideLookupsTotal,
			GenerationsTotal,
			GenerationAttemptSeconds,
			GenerationsInFlight,
			ParseStrategyTotal,
			ImageLookupsTotal,
			PersistenceErrorsTotal,
			SharedTierTotal,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request latency labelled by the chi route pattern, so
// lesson ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
