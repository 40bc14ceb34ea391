package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"slidegate/internal/slide"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingSink) UpsertSlide(_ context.Context, lessonID string, index int, sl slide.Slide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s/%d/%s", lessonID, index, sl.Title))
	return s.err
}

func (s *recordingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestCoordinator(t *testing.T, cfg Config, sink Sink) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(cfg, sink, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func request(index int) slide.GenerationRequest {
	return slide.GenerationRequest{Topic: "Fotossíntese", SlideIndex: index}
}

func contentSlide(req slide.GenerationRequest) slide.Slide {
	return slide.Slide{
		Index:   req.SlideIndex,
		Title:   fmt.Sprintf("Slide %d", req.SlideIndex),
		Content: "As plantas convertem luz em energia.",
		Type:    slide.TypeContent,
	}
}

// countingGen returns a GenerateFunc that counts invocations and, when gate
// is non-nil, blocks until it is closed.
func countingGen(calls *atomic.Int32, gate <-chan struct{}) GenerateFunc {
	return func(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		calls.Add(1)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return slide.Slide{}, ctx.Err()
			}
		}
		return contentSlide(req), nil
	}
}

func (c *Coordinator) waitersFor(req slide.GenerationRequest) int {
	k, _ := BuildSlideKey(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[k.String()]; ok {
		return e.waiters
	}
	return 0
}

func TestConcurrentCallersShareOneGeneration(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)

	var calls atomic.Int32
	gate := make(chan struct{})
	fn := countingGen(&calls, gate)
	req := request(3)

	const callers = 10
	results := make([]slide.Slide, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrGenerate(context.Background(), req, fn)
		}(i)
	}

	require.Eventually(t, func() bool { return c.waitersFor(req) == callers }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatePending, c.State(req))
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, StateReady, c.State(req))
}

func TestReadyEntryIsServedWithoutGenerating(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(2)

	var calls atomic.Int32
	first, err := c.GetOrGenerate(context.Background(), req, countingGen(&calls, nil))
	require.NoError(t, err)

	second, err := c.GetOrGenerate(context.Background(), req, func(context.Context, slide.GenerationRequest) (slide.Slide, error) {
		t.Error("generator must not run on a hit")
		return slide.Slide{}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWhitespaceVariantsShareAKey(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)

	var calls atomic.Int32
	fn := countingGen(&calls, nil)
	_, err := c.GetOrGenerate(context.Background(), slide.GenerationRequest{Topic: "Fotossíntese", SlideIndex: 4}, fn)
	require.NoError(t, err)
	_, err = c.GetOrGenerate(context.Background(), slide.GenerationRequest{Topic: "  Fotossíntese ", SlideIndex: 4}, fn)
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
}

func TestReadyEntryExpiresOnVirtualClock(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, Config{TTL: time.Hour, Clock: clock.Now}, nil)
	req := request(5)

	var calls atomic.Int32
	fn := countingGen(&calls, nil)

	_, err := c.GetOrGenerate(context.Background(), req, fn)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = c.GetOrGenerate(context.Background(), req, fn)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "still fresh one second before expiry")

	clock.Advance(time.Second)
	assert.Equal(t, StateAbsent, c.State(req))
	_, err = c.GetOrGenerate(context.Background(), req, fn)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "expired entry is regenerated")
}

func TestFallbackSlideUsesShortTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, Config{TTL: time.Hour, FallbackTTL: time.Minute, Clock: clock.Now}, nil)
	req := request(6)

	var calls atomic.Int32
	fn := func(_ context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		calls.Add(1)
		return slide.Fallback(req), nil
	}

	got, err := c.GetOrGenerate(context.Background(), req, fn)
	require.NoError(t, err)
	assert.True(t, got.Fallback)

	clock.Advance(30 * time.Second)
	_, _ = c.GetOrGenerate(context.Background(), req, fn)
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(30 * time.Second)
	_, _ = c.GetOrGenerate(context.Background(), req, fn)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFailureIsDeliveredAndNotCached(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(9)
	boom := errors.New("boom")

	_, err := c.GetOrGenerate(context.Background(), req, func(context.Context, slide.GenerationRequest) (slide.Slide, error) {
		return slide.Slide{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, c.State(req))

	var calls atomic.Int32
	got, err := c.GetOrGenerate(context.Background(), req, countingGen(&calls, nil))
	require.NoError(t, err)
	assert.Equal(t, "Slide 9", got.Title)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPanicBecomesFailure(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(10)

	_, err := c.GetOrGenerate(context.Background(), req, func(context.Context, slide.GenerationRequest) (slide.Slide, error) {
		panic("generator exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator exploded")
	assert.Equal(t, StateFailed, c.State(req))
}

func TestInvalidSlideIsRejected(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(7)

	_, err := c.GetOrGenerate(context.Background(), req, func(context.Context, slide.GenerationRequest) (slide.Slide, error) {
		return slide.Slide{Title: "Quiz", Content: "x", Type: slide.TypeQuiz}, nil
	})
	require.Error(t, err)
	assert.NotEqual(t, StateReady, c.State(req))
}

func TestEmptyTopicIsRejected(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)

	_, err := c.GetOrGenerate(context.Background(), slide.GenerationRequest{Topic: "   ", SlideIndex: 1}, countingGen(new(atomic.Int32), nil))
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestCallerCancellationDoesNotCancelGeneration(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(11)

	gate := make(chan struct{})
	var genCtxErr atomic.Value
	var calls atomic.Int32
	fn := func(ctx context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		calls.Add(1)
		<-gate
		genCtxErr.Store(fmt.Sprint(ctx.Err()))
		return contentSlide(req), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.GetOrGenerate(ctx, req, fn)
		errc <- err
	}()

	require.Eventually(t, func() bool { return c.waitersFor(req) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, StatePending, c.State(req))

	close(gate)
	require.Eventually(t, func() bool { return c.State(req) == StateReady }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "<nil>", genCtxErr.Load())

	_, err := c.GetOrGenerate(context.Background(), req, fn)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDistinctKeysGenerateInParallel(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxInFlight: 4}, nil)

	started := make(chan int, 2)
	release := make(chan struct{})
	fn := func(_ context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		started <- req.SlideIndex
		<-release
		return contentSlide(req), nil
	}

	var wg sync.WaitGroup
	for _, idx := range []int{2, 3} {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := c.GetOrGenerate(context.Background(), request(idx), fn)
			assert.NoError(t, err)
		}(idx)
	}

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case idx := <-started:
			seen[idx] = true
		case <-time.After(2 * time.Second):
			t.Fatal("generations did not run concurrently")
		}
	}
	close(release)
	wg.Wait()

	assert.Equal(t, map[int]bool{2: true, 3: true}, seen)
}

func TestMaxInFlightBoundsGenerations(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxInFlight: 1}, nil)

	var running, peak atomic.Int32
	fn := func(_ context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return contentSlide(req), nil
	}

	var wg sync.WaitGroup
	for idx := 1; idx <= 4; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := c.GetOrGenerate(context.Background(), request(idx), fn)
			assert.NoError(t, err)
		}(idx)
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load())
}

func TestReturnedSlidesAreIndependentCopies(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	req := request(7)
	quiz := slide.Slide{
		Index: 7, Title: "Quiz", Content: "Responda", Type: slide.TypeQuiz,
		Questions: []slide.Question{{Prompt: "?", Options: []string{"a", "b", "c", "d"}, Correct: 1}},
	}

	got, err := c.GetOrGenerate(context.Background(), req, func(context.Context, slide.GenerationRequest) (slide.Slide, error) {
		return quiz, nil
	})
	require.NoError(t, err)
	got.Questions[0].Options[0] = "mutated"

	again, err := c.GetOrGenerate(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Questions[0].Options[0])
}

func TestWriteThroughForLessonSlides(t *testing.T) {
	sink := &recordingSink{}
	c := newTestCoordinator(t, Config{}, sink)

	req := slide.GenerationRequest{Topic: "Frações", SlideIndex: 3, LessonID: "L1"}
	_, err := c.GetOrGenerate(context.Background(), req, countingGen(new(atomic.Int32), nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"L1/3/Slide 3"}, sink.Calls())

	// no lesson, no write
	_, err = c.GetOrGenerate(context.Background(), request(3), countingGen(new(atomic.Int32), nil))
	require.NoError(t, err)

	// fallback slides are never persisted
	fb := slide.GenerationRequest{Topic: "Frações", SlideIndex: 4, LessonID: "L1"}
	_, err = c.GetOrGenerate(context.Background(), fb, func(_ context.Context, req slide.GenerationRequest) (slide.Slide, error) {
		return slide.Fallback(req), nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Len(t, sink.Calls(), 1)
}

func TestWriteThroughFailureDoesNotAffectResult(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	c := newTestCoordinator(t, Config{}, sink)

	req := slide.GenerationRequest{Topic: "Frações", SlideIndex: 2, LessonID: "L2"}
	got, err := c.GetOrGenerate(context.Background(), req, countingGen(new(atomic.Int32), nil))
	require.NoError(t, err)
	assert.Equal(t, "Slide 2", got.Title)

	require.NoError(t, c.Close())
	assert.Len(t, sink.Calls(), 1)
}

func TestInvalidateLesson(t *testing.T) {
	sink := &recordingSink{}
	c := newTestCoordinator(t, Config{}, sink)

	var calls atomic.Int32
	fn := countingGen(&calls, nil)
	lessonReq := func(idx int) slide.GenerationRequest {
		return slide.GenerationRequest{Topic: "Frações", SlideIndex: idx, LessonID: "L3"}
	}

	for _, idx := range []int{1, 2} {
		_, err := c.GetOrGenerate(context.Background(), lessonReq(idx), fn)
		require.NoError(t, err)
	}
	_, err := c.GetOrGenerate(context.Background(), request(1), fn)
	require.NoError(t, err)

	assert.Equal(t, 2, c.InvalidateLesson("L3"))
	assert.Equal(t, StateAbsent, c.State(lessonReq(1)))
	assert.Equal(t, StateReady, c.State(request(1)), "other lessons are untouched")
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateLessonWhilePending(t *testing.T) {
	sink := &recordingSink{}
	c := newTestCoordinator(t, Config{}, sink)

	req := slide.GenerationRequest{Topic: "Frações", SlideIndex: 5, LessonID: "L4"}
	gate := make(chan struct{})

	type outcome struct {
		s   slide.Slide
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		s, err := c.GetOrGenerate(context.Background(), req, countingGen(new(atomic.Int32), gate))
		out <- outcome{s, err}
	}()

	require.Eventually(t, func() bool { return c.State(req) == StatePending }, 2*time.Second, 5*time.Millisecond)
	c.InvalidateLesson("L4")
	close(gate)

	o := <-out
	require.NoError(t, o.err)
	assert.Equal(t, "Slide 5", o.s.Title, "waiters still receive the result")
	assert.Equal(t, StateAbsent, c.State(req))

	require.NoError(t, c.Close())
	assert.Empty(t, sink.Calls())
}

func TestInvalidateSingleRequest(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)

	var calls atomic.Int32
	fn := countingGen(&calls, nil)
	_, err := c.GetOrGenerate(context.Background(), request(8), fn)
	require.NoError(t, err)

	c.Invalidate(request(8))
	assert.Equal(t, StateAbsent, c.State(request(8)))

	_, err = c.GetOrGenerate(context.Background(), request(8), fn)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, Config{TTL: time.Minute, Clock: clock.Now}, nil)

	for idx := 1; idx <= 3; idx++ {
		_, err := c.GetOrGenerate(context.Background(), request(idx), countingGen(new(atomic.Int32), nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 3, c.sweep())
	assert.Equal(t, 0, c.Len())
}

func TestGetOrGenerateAfterClose(t *testing.T) {
	c := newTestCoordinator(t, Config{}, nil)
	require.NoError(t, c.Close())

	_, err := c.GetOrGenerate(context.Background(), request(1), countingGen(new(atomic.Int32), nil))
	assert.ErrorIs(t, err, ErrClosed)
}
