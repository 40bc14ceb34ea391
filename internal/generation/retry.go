package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy configures WithRetry.
type RetryPolicy[In any] struct {
	// Attempts is the total number of tries, first one included. Minimum 1.
	Attempts int
	// Timeout bounds each attempt separately. Zero means no per-attempt limit.
	Timeout time.Duration
	// Degrade derives the input of the next attempt from the previous one.
	// Nil reuses the same input.
	Degrade func(In) In
	// Retryable reports whether an attempt error warrants another try. Nil
	// retries every error.
	Retryable func(error) bool
}

// WithRetry calls fn until it succeeds or the policy's attempts run out.
// Each attempt runs under its own timeout; an attempt that overruns it is
// abandoned even if fn ignores its context, and reported as
// ErrGenerationTimeout. Exhaustion returns an error wrapping both
// ErrGenerationExhausted and the last attempt error.
func WithRetry[In, Out any](
	ctx context.Context,
	in In,
	p RetryPolicy[In],
	fn func(ctx context.Context, attempt int, in In) (Out, error),
) (Out, error) {
	var zero Out
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Degrade != nil {
			in = p.Degrade(in)
		}

		out, err := runAttempt(ctx, attempt, in, p.Timeout, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			break
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrGenerationExhausted, lastErr)
}

type attemptResult[Out any] struct {
	out Out
	err error
}

func runAttempt[In, Out any](
	parent context.Context,
	attempt int,
	in In,
	timeout time.Duration,
	fn func(ctx context.Context, attempt int, in In) (Out, error),
) (Out, error) {
	var zero Out

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	done := make(chan attemptResult[Out], 1)
	go func() {
		out, err := fn(ctx, attempt, in)
		done <- attemptResult[Out]{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return zero, fmt.Errorf("attempt %d: %w: %w", attempt, ErrGenerationTimeout, r.err)
		}
		if r.err != nil {
			return zero, fmt.Errorf("attempt %d: %w", attempt, r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		if parent.Err() != nil {
			return zero, parent.Err()
		}
		return zero, fmt.Errorf("attempt %d after %s: %w", attempt, timeout, ErrGenerationTimeout)
	}
}
