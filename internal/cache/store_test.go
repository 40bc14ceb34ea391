package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"slidegate/internal/slide"
)

func TestMemoryStore_TTL(t *testing.T) {
	clock := newFakeClock()
	c := newMemoryStore(time.Hour, clock.Now)
	defer c.Close()

	ctx := context.Background()
	key := "test:key"

	require.NoError(t, c.Set(ctx, key, []byte("hello"), 20*time.Second))

	got, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit, "expected hit immediately after Set")
	assert.Equal(t, "hello", string(got))

	clock.Advance(30 * time.Second)

	_, hit, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit, "expected miss after TTL expiry")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryStore_CopiesValue(t *testing.T) {
	c := NewMemoryStore(time.Hour)
	defer c.Close()

	buf := []byte("abc")
	require.NoError(t, c.Set(context.Background(), "k", buf, time.Minute))
	buf[0] = 'z'

	got, _, _ := c.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	c := NewMemoryStore(time.Hour)
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"slide:L1:1:a", "slide:L1:2:b", "slide:L10:1:c", "slide:-:1:d"} {
		require.NoError(t, c.Set(ctx, k, []byte("v"), time.Minute))
	}

	n, err := c.DeletePrefix(ctx, LessonPrefix("L1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "slide:-:1:d"))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryStore_NonPositiveTTLDeletes(t *testing.T) {
	c := NewMemoryStore(time.Hour)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	_, hit, _ := c.Get(ctx, "k")
	assert.False(t, hit)
}

func TestSlideCodecRoundTrip(t *testing.T) {
	in := slide.Slide{
		Index: 7, Title: "Quiz", Content: "Responda", Type: slide.TypeQuiz,
		Questions: []slide.Question{{Prompt: "2+2?", Options: []string{"1", "2", "3", "4"}, Correct: 3}},
		TokenEstimate: 2,
	}

	b, err := EncodeSlide(in)
	require.NoError(t, err)

	out, err := DecodeSlide(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSlideRejectsGarbage(t *testing.T) {
	_, err := DecodeSlide([]byte{0xc1})
	assert.Error(t, err)

	b, err := EncodeSlide(slide.Slide{Title: "sem conteúdo"})
	require.NoError(t, err)
	_, err = DecodeSlide(b)
	assert.Error(t, err, "a decoded slide must satisfy the shape contract")
}

func TestBuildSlideKey(t *testing.T) {
	base := slide.GenerationRequest{Topic: "Frações", SlideIndex: 3, LessonID: "L1"}

	k1, err := BuildSlideKey(base)
	require.NoError(t, err)
	assert.Equal(t, "L1", k1.LessonID)
	assert.Len(t, k1.Hash, 64)
	assert.Regexp(t, `^slide:L1:3:[0-9a-f]{64}$`, k1.String())

	anon, err := BuildSlideKey(slide.GenerationRequest{Topic: "Frações", SlideIndex: 3})
	require.NoError(t, err)
	assert.Regexp(t, `^slide:-:3:`, anon.String())

	// length prefixing keeps field boundaries distinct
	a, _ := BuildSlideKey(slide.GenerationRequest{Topic: "ab", SlideIndex: 1, SchoolContext: "c"})
	b, _ := BuildSlideKey(slide.GenerationRequest{Topic: "a", SlideIndex: 1, SchoolContext: "bc"})
	assert.NotEqual(t, a.Hash, b.Hash)

	ctx, _ := BuildSlideKey(slide.GenerationRequest{Topic: "Frações", SlideIndex: 3, LessonID: "L1", SchoolContext: "rural"})
	assert.NotEqual(t, k1.Hash, ctx.Hash)

	parsed, ok := parseSlideKey(k1.String())
	require.True(t, ok)
	assert.Equal(t, k1, parsed)

	_, err = BuildSlideKey(slide.GenerationRequest{Topic: " ", SlideIndex: 3})
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestLoggingStoreDelegates(t *testing.T) {
	mem := NewMemoryStore(time.Hour)
	s := NewLoggingStore(mem, zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	_, hit, err := s.Get(ctx, "slide:L1:1:abc")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.Set(ctx, "slide:L1:1:abc", []byte("v"), time.Minute))
	got, hit, err := s.Get(ctx, "slide:L1:1:abc")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v", string(got))

	n, err := s.DeletePrefix(ctx, LessonPrefix("L1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type pingStore struct {
	*MemoryStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestLoggingStorePing(t *testing.T) {
	mem := NewLoggingStore(NewMemoryStore(time.Hour), zaptest.NewLogger(t))
	defer mem.Close()
	assert.NoError(t, mem.Ping(context.Background()), "memory backend has nothing to ping")

	down := errors.New("connection refused")
	inner := NewMemoryStore(time.Hour)
	defer inner.Close()
	s := NewLoggingStore(pingStore{MemoryStore: inner, err: down}, zaptest.NewLogger(t))
	assert.ErrorIs(t, s.Ping(context.Background()), down)
}

func TestLoggingStoreDelete(t *testing.T) {
	s := NewLoggingStore(NewMemoryStore(time.Hour), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "slide:L1:2:abc", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "slide:L1:2:abc"))

	_, hit, err := s.Get(ctx, "slide:L1:2:abc")
	require.NoError(t, err)
	assert.False(t, hit)
}

// TestRedisStore runs against a real server when REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, RedisConfig{Prefix: "slidegate-test-" + time.Now().Format("150405.000")})
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Set(ctx, "slide:L1:1:a", []byte("one"), time.Minute))
	require.NoError(t, s.Set(ctx, "slide:L1:2:b", []byte("two"), time.Minute))

	got, hit, err := s.Get(ctx, "slide:L1:1:a")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "one", string(got))

	n, err := s.DeletePrefix(ctx, LessonPrefix("L1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, hit, err = s.Get(ctx, "slide:L1:2:b")
	require.NoError(t, err)
	assert.False(t, hit)
}
