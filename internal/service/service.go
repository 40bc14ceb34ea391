package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"slidegate/internal/cache"
	"slidegate/internal/slide"
	"slidegate/internal/store"
	"slidegate/pkg/logging/logging"
)

// Invoker generates one slide. *generation.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error)
}

// Lessons is the lesson persistence the service needs. *store.LessonStore
// satisfies it.
type Lessons interface {
	CreateLesson(ctx context.Context, topic, schoolContext string) (*store.Lesson, error)
	GetLesson(ctx context.Context, id string) (*store.Lesson, error)
	DeleteLesson(ctx context.Context, id string) error
}

type Config struct {
	// SharedTTL of slides in the shared tier. Default 1h.
	SharedTTL time.Duration
	// Prefetch warms slides 2..14 of a new lesson in the background.
	Prefetch        bool
	PrefetchWorkers int
}

// Service is the public surface of slide generation.
type Service struct {
	coord    *cache.Coordinator
	shared   cache.Store
	invoker  Invoker
	lessons  Lessons
	prefetch *Prefetcher
	cfg      Config
	logger   *zap.Logger
}

// New wires the service. shared may be nil to disable the shared tier.
func New(coord *cache.Coordinator, shared cache.Store, invoker Invoker, lessons Lessons, cfg Config, logger *zap.Logger) *Service {
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		coord:   coord,
		shared:  shared,
		invoker: invoker,
		lessons: lessons,
		cfg:     cfg,
		logger:  logger.Named("service"),
	}
	if cfg.Prefetch {
		s.prefetch = NewPrefetcher(s.GetOrGenerateSlide, cfg.PrefetchWorkers, logger)
	}
	return s
}

// GetOrGenerateSlide returns the slide for req, generating it at most once
// across concurrent callers. Besides a *slide.ValidationError it only fails
// with the caller's context error.
func (s *Service) GetOrGenerateSlide(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error) {
	if err := req.Validate(); err != nil {
		return slide.Slide{}, err
	}
	return s.coord.GetOrGenerate(ctx, req.Normalized(), s.load)
}

// load runs once per coordinator miss: shared tier first, then generation.
func (s *Service) load(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error) {
	logger := logging.Ctx(ctx, s.logger)
	key, err := cache.BuildSlideKey(req)
	if err != nil {
		return slide.Slide{}, err
	}

	if s.shared != nil {
		if b, ok, err := s.shared.Get(ctx, key.String()); err == nil && ok {
			cached, err := cache.DecodeSlide(b)
			if err == nil {
				return cached, nil
			}
			logger.Warn("shared_tier_decode_failed", zap.String("cache_key", key.String()), zap.Error(err))
		}
	}

	generated, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		return slide.Slide{}, err
	}

	if s.shared != nil && !generated.Fallback {
		if b, err := cache.EncodeSlide(generated); err == nil {
			_ = s.shared.Set(ctx, key.String(), b, s.cfg.SharedTTL)
		}
	}
	return generated, nil
}

// CreateLesson stores a new lesson outline and, when enabled, starts warming
// its slides.
func (s *Service) CreateLesson(ctx context.Context, topic, schoolContext string) (*store.Lesson, error) {
	lesson, err := s.lessons.CreateLesson(ctx, topic, schoolContext)
	if err != nil {
		return nil, err
	}

	if s.prefetch != nil {
		reqs := make([]slide.GenerationRequest, 0, slide.TotalSlides-1)
		for i := 2; i <= slide.TotalSlides; i++ {
			reqs = append(reqs, lessonRequest(lesson, i))
		}
		queued := s.prefetch.Enqueue(ctx, lesson.ID, reqs)
		logging.Ctx(ctx, s.logger).Info("lesson_prefetch_queued",
			zap.String("lesson_id", lesson.ID),
			zap.Int("queued", queued),
		)
	}
	return lesson, nil
}

func (s *Service) Lesson(ctx context.Context, id string) (*store.Lesson, error) {
	return s.lessons.GetLesson(ctx, id)
}

// LessonSlide returns slide index of a stored lesson, generating it when
// needed.
func (s *Service) LessonSlide(ctx context.Context, id string, index int) (slide.Slide, error) {
	lesson, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return slide.Slide{}, err
	}
	return s.GetOrGenerateSlide(ctx, lessonRequest(lesson, index))
}

type SlideProgress struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Stored bool   `json:"stored"`
}

type Progress struct {
	LessonID string          `json:"lessonId"`
	Ready    int             `json:"ready"`
	Total    int             `json:"total"`
	Slides   []SlideProgress `json:"slides"`
}

// Progress reports, per slide, the coordinator state and whether a
// generated version is stored.
func (s *Service) Progress(ctx context.Context, id string) (*Progress, error) {
	lesson, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return nil, err
	}

	stored := make(map[int]store.LessonSlide, len(lesson.Slides))
	for _, ls := range lesson.Slides {
		stored[ls.SlideIndex] = ls
	}

	p := &Progress{LessonID: lesson.ID, Total: slide.TotalSlides}
	for i := 1; i <= slide.TotalSlides; i++ {
		state := s.coord.State(lessonRequest(lesson, i))
		ls, ok := stored[i]
		title := slide.OutlineTitle(i)
		if ok && ls.Title != "" {
			title = ls.Title
		}
		sp := SlideProgress{
			Index:  i,
			Title:  title,
			State:  state.String(),
			Stored: ok && ls.Generated,
		}
		if state == cache.StateReady || sp.Stored {
			p.Ready++
		}
		p.Slides = append(p.Slides, sp)
	}
	return p, nil
}

// DeleteLesson removes the lesson everywhere: store, coordinator, shared tier
// and any queued prefetch.
func (s *Service) DeleteLesson(ctx context.Context, id string) error {
	if err := s.lessons.DeleteLesson(ctx, id); err != nil {
		return err
	}
	if s.prefetch != nil {
		s.prefetch.Cancel(id)
	}
	evicted := s.coord.InvalidateLesson(id)

	logger := logging.Ctx(ctx, s.logger)
	if s.shared != nil {
		if _, err := s.shared.DeletePrefix(ctx, cache.LessonPrefix(id)); err != nil {
			logger.Warn("shared_tier_purge_failed", zap.String("lesson_id", id), zap.Error(err))
		}
	}
	logger.Info("lesson_deleted", zap.String("lesson_id", id), zap.Int("evicted", evicted))
	return nil
}

// RegenerateSlide drops slide index of a lesson from the coordinator and the
// shared tier so the next request generates it again.
func (s *Service) RegenerateSlide(ctx context.Context, id string, index int) error {
	lesson, err := s.lessons.GetLesson(ctx, id)
	if err != nil {
		return err
	}
	req := lessonRequest(lesson, index)
	if err := req.Validate(); err != nil {
		return err
	}
	key, err := cache.BuildSlideKey(req.Normalized())
	if err != nil {
		return err
	}

	s.coord.Invalidate(req.Normalized())
	if s.shared != nil {
		if err := s.shared.Delete(ctx, key.String()); err != nil {
			logging.Ctx(ctx, s.logger).Warn("shared_tier_delete_failed", zap.String("cache_key", key.String()), zap.Error(err))
		}
	}
	logging.Ctx(ctx, s.logger).Info("slide_invalidated",
		zap.String("lesson_id", id),
		zap.Int("slide_index", index),
	)
	return nil
}

// Close stops the prefetch workers.
func (s *Service) Close() error {
	if s.prefetch != nil {
		s.prefetch.Close()
	}
	return nil
}

// IsNotFound reports whether err means the lesson does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrLessonNotFound)
}

func lessonRequest(l *store.Lesson, index int) slide.GenerationRequest {
	return slide.GenerationRequest{
		Topic:         l.Topic,
		SlideIndex:    index,
		LessonID:      l.ID,
		SchoolContext: l.SchoolContext,
	}
}
