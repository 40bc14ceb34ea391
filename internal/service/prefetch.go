package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"slidegate/internal/slide"
)

type slideFunc func(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error)

type prefetchJob struct {
	ctx   context.Context
	req   slide.GenerationRequest
	batch *lessonBatch
}

// lessonBatch tracks the queued jobs of one lesson.
type lessonBatch struct {
	lessonID  string
	cancel    context.CancelFunc
	remaining int
}

// Prefetcher warms lesson slides with a fixed pool of workers. Jobs that do
// not fit in the queue are dropped; the slide is then generated on first
// request instead.
type Prefetcher struct {
	get    slideFunc
	jobs   chan prefetchJob
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	batches map[string]*lessonBatch

	wg sync.WaitGroup
}

func NewPrefetcher(get slideFunc, workers int, logger *zap.Logger) *Prefetcher {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Prefetcher{
		get:     get,
		jobs:    make(chan prefetchJob, workers*slide.TotalSlides),
		logger:  logger.Named("prefetch"),
		batches: make(map[string]*lessonBatch),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Enqueue schedules reqs for lessonID and returns how many were queued. The
// jobs keep ctx's values but not its cancellation.
func (p *Prefetcher) Enqueue(ctx context.Context, lessonID string, reqs []slide.GenerationRequest) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if prev, ok := p.batches[lessonID]; ok {
		prev.cancel()
	}
	batch := &lessonBatch{lessonID: lessonID, cancel: cancel}

	queued := 0
	for _, req := range reqs {
		select {
		case p.jobs <- prefetchJob{ctx: jobCtx, req: req, batch: batch}:
			queued++
			batch.remaining++
		default:
			p.logger.Warn("prefetch_queue_full",
				zap.String("lesson_id", lessonID),
				zap.Int("slide_index", req.SlideIndex),
			)
		}
	}

	if queued == 0 {
		cancel()
		delete(p.batches, lessonID)
	} else {
		p.batches[lessonID] = batch
	}
	return queued
}

// Cancel drops the queued jobs of lessonID.
func (p *Prefetcher) Cancel(lessonID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.batches[lessonID]; ok {
		b.cancel()
		delete(p.batches, lessonID)
	}
}

// finish releases the batch once its last job ran.
func (p *Prefetcher) finish(b *lessonBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.remaining--
	if b.remaining > 0 {
		return
	}
	b.cancel()
	if p.batches[b.lessonID] == b {
		delete(p.batches, b.lessonID)
	}
}

func (p *Prefetcher) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
		p.finish(job.batch)
	}
}

func (p *Prefetcher) run(id int, job prefetchJob) {
	if job.ctx.Err() != nil {
		return
	}
	logger := p.logger.With(
		zap.Int("worker", id),
		zap.String("lesson_id", job.req.LessonID),
		zap.Int("slide_index", job.req.SlideIndex),
	)
	s, err := p.get(job.ctx, job.req)
	if err != nil {
		logger.Debug("prefetch_failed", zap.Error(err))
		return
	}
	logger.Debug("prefetch_done", zap.Bool("fallback", s.Fallback))
}

// Close stops accepting jobs, cancels queued ones and waits for the workers.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id, b := range p.batches {
		b.cancel()
		delete(p.batches, id)
	}
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
