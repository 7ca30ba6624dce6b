// Package retry implements the backoff policy executor used by every
// outbound remote call. All backoff math lives here; callers wrap their
// single-shot operations in a Policy rather than hand-rolling loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/bl1nk/agent-worker/internal/platform/logger"
)

// Strategy selects the function mapping attempt number to wait duration.
type Strategy string

// Supported backoff strategies.
const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// minDelay is the floor applied after jitter so a perturbed delay never
// collapses to zero.
const minDelay = 100 * time.Millisecond

// ErrMaxAttemptsExceeded wraps the last failure once every attempt is spent.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay seeds the backoff curve.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Strategy selects the backoff curve; defaults to exponential.
	Strategy Strategy

	// Jitter perturbs each delay by ±(delay * JitterFactor) when true.
	Jitter bool

	// JitterFactor is the relative jitter amplitude; defaults to 0.1.
	JitterFactor float64

	// Retryable decides whether a failure on the given attempt should be
	// retried. A nil predicate retries every error.
	Retryable func(err error, attempt int) bool

	// OnRetry fires before each inter-attempt wait. Hook errors are logged
	// and never abort the retry loop.
	OnRetry func(attempt int, err error, delay time.Duration) error
}

// DefaultPolicy returns the policy used for provider calls when a task type
// does not override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Strategy:     StrategyExponential,
		Jitter:       true,
		JitterFactor: 0.1,
	}
}

// Result records the outcome of a retried operation: how many attempts ran
// and how long the loop spent waiting between them.
type Result[T any] struct {
	Value      T
	Attempts   int
	TotalDelay time.Duration
}

// Do runs op under the policy. On success it returns the value plus the
// attempt record. On failure it returns the last error wrapped with
// ErrMaxAttemptsExceeded when attempts ran out, or the bare error when the
// predicate declined the retry; the Result is populated either way.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (Result[T], error) {
	log := logger.FromContext(ctx)

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		result  Result[T]
		lastErr error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		value, err := op(ctx)
		if err == nil {
			result.Value = value
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err, attempt) {
			log.Debug("error not retryable, giving up",
				"attempt", attempt,
				"error", err)
			return result, err
		}

		if attempt == maxAttempts {
			break
		}

		delay := p.delay(attempt)
		result.TotalDelay += delay

		log.Warn("operation failed, retrying",
			"attempt", attempt,
			"next_attempt", attempt+1,
			"delay", delay,
			"error", err)

		if p.OnRetry != nil {
			if hookErr := p.OnRetry(attempt, err, delay); hookErr != nil {
				log.Warn("retry hook failed", "attempt", attempt, "error", hookErr)
			}
		}

		if err := sleep(ctx, delay); err != nil {
			return result, err
		}
	}

	log.Error("operation failed after all attempts",
		"attempts", result.Attempts,
		"total_delay", result.TotalDelay,
		"error", lastErr)

	return result, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, result.Attempts, lastErr)
}

// delay computes the wait before the next attempt.
func (p Policy) delay(attempt int) time.Duration {
	var d time.Duration

	switch p.Strategy {
	case StrategyFixed:
		d = p.BaseDelay
	case StrategyLinear:
		d = p.BaseDelay * time.Duration(attempt)
	default: // exponential
		d = p.BaseDelay << uint(attempt-1)
	}

	if p.Jitter {
		factor := p.JitterFactor
		if factor <= 0 {
			factor = 0.1
		}
		amplitude := float64(d) * factor
		d += time.Duration((rand.Float64()*2 - 1) * amplitude)
	}

	if d < minDelay {
		d = minDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	return d
}

// sleep waits for d without holding any resource, returning early when the
// context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogHook returns an OnRetry hook that records each retry on the given logger.
func LogHook(log *slog.Logger) func(int, error, time.Duration) error {
	return func(attempt int, err error, delay time.Duration) error {
		log.Info("retry scheduled", "attempt", attempt, "delay", delay, "error", err)
		return nil
	}
}
