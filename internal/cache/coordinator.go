package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"slidegate/internal/metrics"
	"slidegate/internal/slide"
	"slidegate/pkg/logging/logging"
)

// ErrClosed is returned by GetOrGenerate after Close.
var ErrClosed = errors.New("cache: coordinator closed")

// State is the lifecycle of one slide key.
type State int

const (
	StateAbsent State = iota
	StatePending
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "absent"
	}
}

// GenerateFunc produces the slide for req. It runs at most once per key at a
// time, on a context that outlives any single caller.
type GenerateFunc func(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error)

// Sink receives every non-fallback slide that belongs to a lesson.
type Sink interface {
	UpsertSlide(ctx context.Context, lessonID string, slideIndex int, s slide.Slide) error
}

type Config struct {
	// TTL of a Ready slide. Default 1h.
	TTL time.Duration
	// FallbackTTL of a Ready fallback slide. Default 1m.
	FallbackTTL time.Duration
	// MaxEntries bounds the Ready store. Default 10000.
	MaxEntries int
	// MaxInFlight bounds concurrent generations. Default 8.
	MaxInFlight int64
	// SweepInterval between expiry sweeps. Default 1m.
	SweepInterval time.Duration
	// WriteTimeout bounds one write-through call. Default 10s.
	WriteTimeout time.Duration
	// Clock defaults to time.Now. Tests inject a virtual clock.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.FallbackTTL <= 0 {
		c.FallbackTTL = time.Minute
	}
	if c.FallbackTTL > c.TTL {
		c.FallbackTTL = c.TTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 8
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// entry is a Pending generation. Waiters block on done, which is closed
// exactly once after result and err are set.
type entry struct {
	key       string
	lessonID  string
	index     int
	done      chan struct{}
	result    slide.Slide
	err       error
	waiters   int
	createdAt time.Time
	// discard is set when the lesson is invalidated mid-flight: waiters still
	// get the result but it is neither stored nor written through.
	discard bool
}

type readyEntry struct {
	slide     slide.Slide
	expiresAt time.Time
}

// Coordinator deduplicates slide generations. Concurrent callers for the same
// request share one generation, and a successful result is served from
// memory until it expires.
type Coordinator struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	closed  bool
	pending map[string]*entry
	failed  map[string]time.Time
	ready   *otter.Cache[string, readyEntry]
	// index maps every Ready key to its lesson id ("" when none).
	index map[string]string

	base      context.Context
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

// NewCoordinator builds a coordinator. sink may be nil to disable
// write-through.
func NewCoordinator(cfg Config, sink Sink, logger *zap.Logger) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	ready, err := otter.New(&otter.Options[string, readyEntry]{
		MaximumSize:      cfg.MaxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, readyEntry](cfg.TTL),
	})
	if err != nil {
		return nil, fmt.Errorf("cache: build ready store: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.Named("coordinator"),
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		pending: make(map[string]*entry),
		failed:  make(map[string]time.Time),
		ready:   ready,
		index:   make(map[string]string),
		base:    base,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}

	c.bg.Add(1)
	go c.sweepLoop()

	return c, nil
}

// GetOrGenerate returns the slide for req, generating it with fn only when no
// Ready or Pending entry exists. A caller whose ctx ends stops waiting but
// never cancels the shared generation.
func (c *Coordinator) GetOrGenerate(ctx context.Context, req slide.GenerationRequest, fn GenerateFunc) (slide.Slide, error) {
	k, err := BuildSlideKey(req)
	if err != nil {
		return slide.Slide{}, err
	}
	key := k.String()
	logger := logging.Ctx(ctx, c.logger)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return slide.Slide{}, ErrClosed
	}
	if r, ok := c.lookupLocked(key); ok {
		c.mu.Unlock()
		metrics.SlideLookupsTotal.WithLabelValues("hit").Inc()
		logger.Debug("slide_cache_lookup", zap.String("cache_key", key), zap.String("cache_result", "hit"))
		return r.slide.Clone(), nil
	}

	e, joined := c.pending[key]
	if joined {
		e.waiters++
	} else {
		e = &entry{
			key:       key,
			lessonID:  k.LessonID,
			index:     k.Index,
			done:      make(chan struct{}),
			waiters:   1,
			createdAt: c.cfg.Clock(),
		}
		c.pending[key] = e
		delete(c.failed, key)
		c.bg.Add(1)
		go c.run(ctx, e, req.Normalized(), fn)
	}
	c.mu.Unlock()

	result := "miss"
	if joined {
		result = "joined"
	}
	metrics.SlideLookupsTotal.WithLabelValues(result).Inc()
	logger.Debug("slide_cache_lookup", zap.String("cache_key", key), zap.String("cache_result", result))

	select {
	case <-e.done:
		if e.err != nil {
			return slide.Slide{}, e.err
		}
		return e.result.Clone(), nil
	case <-ctx.Done():
		c.mu.Lock()
		e.waiters--
		c.mu.Unlock()
		return slide.Slide{}, ctx.Err()
	}
}

// run executes fn detached from the caller that started it. The caller's
// context values (request logger) are kept, its cancellation is not.
func (c *Coordinator) run(parent context.Context, e *entry, req slide.GenerationRequest, fn GenerateFunc) {
	defer c.bg.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()

	logger := logging.Ctx(parent, c.logger).With(
		zap.String("cache_key", e.key),
		zap.Int("slide_index", e.index),
	)

	start := time.Now()
	var (
		s   slide.Slide
		err error
	)
	if err = c.sem.Acquire(ctx, 1); err == nil {
		metrics.GenerationsInFlight.Inc()
		s, err = invoke(ctx, fn, req)
		metrics.GenerationsInFlight.Dec()
		c.sem.Release(1)
	}
	if err == nil {
		if verr := s.Validate(); verr != nil {
			err = fmt.Errorf("cache: generator returned an invalid slide: %w", verr)
		}
	}

	discarded, waiters := c.settle(e, s, err)

	fields := []zap.Field{
		zap.Int("waiters", waiters),
		zap.Float64("latency_ms", sinceMs(start)),
	}
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("failed").Inc()
		logger.Error("slide_generation_failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("slide_generation_settled", append(fields,
		zap.Bool("fallback", s.Fallback),
		zap.Bool("discarded", discarded),
	)...)

	if !discarded && !s.Fallback && e.lessonID != "" && c.sink != nil {
		c.writeThrough(ctx, logger, e.lessonID, e.index, s.Clone())
	}
}

func invoke(ctx context.Context, fn GenerateFunc, req slide.GenerationRequest) (s slide.Slide, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: generator panicked: %v", r)
		}
	}()
	return fn(ctx, req)
}

// settle publishes the outcome to waiters and moves the key out of Pending.
// It reports whether the result was discarded by an invalidation, and how
// many callers were still waiting.
func (c *Coordinator) settle(e *entry, s slide.Slide, err error) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock()
	e.result, e.err = s, err
	if c.pending[e.key] == e {
		delete(c.pending, e.key)
	}

	switch {
	case err != nil:
		c.failed[e.key] = now
	case !e.discard:
		ttl := c.cfg.TTL
		if s.Fallback {
			ttl = c.cfg.FallbackTTL
		}
		c.ready.Set(e.key, readyEntry{slide: s.Clone(), expiresAt: now.Add(ttl)})
		c.ready.SetExpiresAfter(e.key, ttl)
		c.index[e.key] = e.lessonID
	}

	close(e.done)
	return e.discard, e.waiters
}

// writeThrough persists s without blocking the waiters. Failures are logged
// and counted, never surfaced.
func (c *Coordinator) writeThrough(ctx context.Context, logger *zap.Logger, lessonID string, index int, s slide.Slide) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
		defer cancel()

		if err := c.sink.UpsertSlide(ctx, lessonID, index, s); err != nil {
			metrics.PersistenceErrorsTotal.Inc()
			logger.Error("slide_persist_failed",
				zap.String("lesson_id", lessonID),
				zap.Error(err),
			)
		}
	}()
}

// lookupLocked returns the Ready entry for key if it has not expired on the
// coordinator clock. Expired entries are dropped.
func (c *Coordinator) lookupLocked(key string) (readyEntry, bool) {
	r, ok := c.ready.GetIfPresent(key)
	if !ok {
		delete(c.index, key)
		return readyEntry{}, false
	}
	if !c.cfg.Clock().Before(r.expiresAt) {
		c.ready.Invalidate(key)
		delete(c.index, key)
		return readyEntry{}, false
	}
	return r, true
}

// State reports where req currently is in its lifecycle.
func (c *Coordinator) State(req slide.GenerationRequest) State {
	k, err := BuildSlideKey(req)
	if err != nil {
		return StateAbsent
	}
	key := k.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		return StatePending
	}
	if _, ok := c.lookupLocked(key); ok {
		return StateReady
	}
	if _, ok := c.failed[key]; ok {
		return StateFailed
	}
	return StateAbsent
}

// Invalidate evicts the Ready slide for req. A generation in flight for it
// still answers its waiters but is not stored.
func (c *Coordinator) Invalidate(req slide.GenerationRequest) {
	k, err := BuildSlideKey(req)
	if err != nil {
		return
	}
	key := k.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ready.Invalidate(key)
	delete(c.index, key)
	delete(c.failed, key)
	if e, ok := c.pending[key]; ok {
		e.discard = true
	}
}

// InvalidateLesson evicts every slide of lessonID and returns how many Ready
// entries were removed.
func (c *Coordinator) InvalidateLesson(lessonID string) int {
	if lessonID == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, lesson := range c.index {
		if lesson != lessonID {
			continue
		}
		if _, ok := c.ready.GetIfPresent(key); ok {
			n++
		}
		c.ready.Invalidate(key)
		delete(c.index, key)
	}
	for key, e := range c.pending {
		if e.lessonID == lessonID {
			e.discard = true
			delete(c.failed, key)
		}
	}
	for key := range c.failed {
		if k, ok := parseSlideKey(key); ok && k.LessonID == lessonID {
			delete(c.failed, key)
		}
	}
	return n
}

// Len returns the number of unexpired Ready slides.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.index {
		if _, ok := c.lookupLocked(key); ok {
			n++
		}
	}
	return n
}

func (c *Coordinator) sweepLoop() {
	defer c.bg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("slide_cache_swept", zap.Int("removed", n))
			}
		case <-c.stop:
			return
		}
	}
}

// sweep drops expired Ready entries, index records of entries otter already
// evicted, and Failed markers older than FallbackTTL.
func (c *Coordinator) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock()
	removed := 0
	for key := range c.index {
		if _, ok := c.lookupLocked(key); !ok {
			removed++
		}
	}
	for key, at := range c.failed {
		if now.Sub(at) >= c.cfg.FallbackTTL {
			delete(c.failed, key)
		}
	}
	return removed
}

// Close cancels in-flight generations, waits for them and for pending
// write-through calls, and stops the sweeper.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)
		c.cancel()
		c.bg.Wait()
		c.ready.StopAllGoroutines()
	})
	return nil
}
