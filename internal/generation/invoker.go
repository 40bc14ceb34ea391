package generation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"slidegate/internal/images"
	"slidegate/internal/metrics"
	"slidegate/internal/parser"
	"slidegate/internal/slide"
	"slidegate/pkg/logging/logging"
)

type InvokerConfig struct {
	// AttemptTimeout bounds each generator call. Default 30s.
	AttemptTimeout time.Duration
	// Attempts counts the primary call plus degraded retries. Default 2.
	Attempts int
	// ImageTimeout bounds the image lookup. Default 8s.
	ImageTimeout time.Duration
}

func (c InvokerConfig) withDefaults() InvokerConfig {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 8 * time.Second
	}
	return c
}

// Invoker produces one slide per call. It never returns a generation error:
// once every attempt failed it resolves to slide.Fallback.
type Invoker struct {
	gen    Generator
	finder images.Finder
	chain  parser.Chain
	cfg    InvokerConfig
	logger *zap.Logger
}

// NewInvoker wires a generator and an optional image finder.
func NewInvoker(gen Generator, finder images.Finder, cfg InvokerConfig, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		gen:    gen,
		finder: finder,
		chain:  parser.Strategies(),
		cfg:    cfg.withDefaults(),
		logger: logger.Named("invoker"),
	}
}

// Invoke generates the slide for req. The only error it returns is a
// validation error for a malformed request.
func (inv *Invoker) Invoke(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error) {
	if err := req.Validate(); err != nil {
		return slide.Slide{}, err
	}
	start := time.Now()
	logger := logging.Ctx(ctx, inv.logger).With(
		zap.Int("slide_index", req.SlideIndex),
		zap.String("lesson_id", req.LessonID),
	)

	policy := RetryPolicy[Prompt]{
		Attempts:  inv.cfg.Attempts,
		Timeout:   inv.cfg.AttemptTimeout,
		Degrade:   DegradePrompt,
		Retryable: func(err error) bool { return !errors.Is(err, ErrUnavailable) },
	}

	s, err := WithRetry(ctx, BuildPrompt(req), policy, func(ctx context.Context, attempt int, p Prompt) (slide.Slide, error) {
		return inv.attempt(ctx, logger, req, attempt, p)
	})
	if err != nil {
		logger.Warn("generation_fallback",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		metrics.GenerationsTotal.WithLabelValues("fallback").Inc()
		return slide.Fallback(req), nil
	}

	s = inv.illustrate(ctx, logger, req, s)
	metrics.GenerationsTotal.WithLabelValues("ok").Inc()
	logger.Info("generation_completed",
		zap.String("slide_type", string(s.Type)),
		zap.Int("token_estimate", s.TokenEstimate),
		zap.Duration("duration", time.Since(start)),
	)
	return s, nil
}

func (inv *Invoker) attempt(ctx context.Context, logger *zap.Logger, req slide.GenerationRequest, attempt int, p Prompt) (slide.Slide, error) {
	start := time.Now()
	s, err := inv.generateOnce(ctx, req, p)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, parser.ErrParseFailure):
		result = "parse_failure"
	case ctx.Err() != nil:
		result = "timeout"
	default:
		result = "error"
	}
	metrics.GenerationAttemptSeconds.
		WithLabelValues(strconv.Itoa(attempt), result).
		Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Debug("generation_attempt_failed",
			zap.Int("attempt", attempt),
			zap.Bool("degraded", p.Degraded),
			zap.String("result", result),
			zap.Error(err),
		)
	}
	return s, err
}

func (inv *Invoker) generateOnce(ctx context.Context, req slide.GenerationRequest, p Prompt) (slide.Slide, error) {
	raw, err := inv.gen.Generate(ctx, p)
	if err != nil {
		return slide.Slide{}, err
	}

	s, strategy, err := inv.chain.Parse(raw)
	if err != nil {
		return slide.Slide{}, err
	}
	metrics.ParseStrategyTotal.WithLabelValues(strategy).Inc()

	return conform(req, s)
}

// conform pins the slide to the request's position in the lesson layout.
func conform(req slide.GenerationRequest, s slide.Slide) (slide.Slide, error) {
	s.Index = req.SlideIndex
	want := slide.TypeFor(req.SlideIndex)

	if want == slide.TypeQuiz {
		if s.Type != slide.TypeQuiz {
			return slide.Slide{}, fmt.Errorf("%w: slide %d must be a quiz", parser.ErrParseFailure, req.SlideIndex)
		}
		return s, nil
	}

	// a quiz outside a quiz slot keeps its text and loses the questions
	s.Type = want
	s.Questions = nil
	return s, nil
}

// illustrate attaches an image to eligible slides. It never fails.
func (inv *Invoker) illustrate(ctx context.Context, logger *zap.Logger, req slide.GenerationRequest, s slide.Slide) slide.Slide {
	if !slide.WantsImage(req.SlideIndex) {
		return s
	}

	query := s.ImageQuery
	if query == "" {
		query = strings.TrimSpace(req.Topic + " " + s.Title)
	}

	if inv.finder != nil {
		ctx, cancel := context.WithTimeout(ctx, inv.cfg.ImageTimeout)
		defer cancel()

		img, err := inv.finder.FindImage(ctx, query)
		if err == nil && img != nil && img.URL != "" {
			metrics.ImageLookupsTotal.WithLabelValues("found").Inc()
			s.ImageURL, s.ImageSource = img.URL, img.Source
			return s
		}
		logger.Debug("image_lookup_degraded", zap.String("query", query), zap.Error(err))
	}

	metrics.ImageLookupsTotal.WithLabelValues("placeholder").Inc()
	s.ImageURL, s.ImageSource = slide.PlaceholderImageURL, "placeholder"
	return s
}
