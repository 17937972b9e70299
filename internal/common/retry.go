package common

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// jitterFraction bounds the symmetric random spread applied to a delay.
const jitterFraction = 0.1

// RetryPolicy configures RetryWithBackoff. Treat it as a value: callers
// override per call by passing a modified copy.
type RetryPolicy struct {
	RetryableCodes []ErrorCode
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryableCodes are retried by DefaultRetryPolicy.
func DefaultRetryableCodes() []ErrorCode {
	return []ErrorCode{
		CodeNetworkConnectionRefused,
		CodeNetworkTimeout,
		CodeTerminalBusy,
		CodeTerminalOffline,
	}
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryableCodes: DefaultRetryableCodes(),
	}
}

// SingleAttemptPolicy never retries.
func SingleAttemptPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 1
	return p
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// ShouldRetry reports whether err may be retried under p. The error's own
// retry eligibility must hold, and when p names retryable codes the code must
// be among them.
func (p RetryPolicy) ShouldRetry(err *ClassifiedError) bool {
	if err == nil || !err.Retryable {
		return false
	}
	if len(p.RetryableCodes) == 0 {
		return true
	}
	return slices.Contains(p.RetryableCodes, err.Code)
}

// BackoffDelay returns the wait before retry number attempt (1-based).
// rnd must return values in [0, 1); it is ignored when jitter is disabled.
func BackoffDelay(p RetryPolicy, attempt int, rnd func() float64) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.Jitter && rnd != nil {
		delay += delay * jitterFraction * (rnd()*2 - 1)
	}
	delay = math.Round(delay)
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// RetryFunc observes a retry before the backoff wait.
type RetryFunc func(attempt int, err *ClassifiedError, delay time.Duration)

// Operation is a retryable unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryWithBackoff runs op until it succeeds, fails with an error policy
// refuses to retry, or exhausts MaxAttempts. The returned error is always the
// last ClassifiedError.
func RetryWithBackoff[T any](ctx context.Context, op Operation[T], policy RetryPolicy, onRetry RetryFunc) (T, error) {
	return retryWithBackoff(ctx, defaultClassifier, op, policy, onRetry, rand.Float64)
}

func retryWithBackoff[T any](
	ctx context.Context,
	classifier *Classifier,
	op Operation[T],
	policy RetryPolicy,
	onRetry RetryFunc,
	rnd func() float64,
) (T, error) {
	var zero T
	policy = policy.normalized()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		classified := classifier.Classify(err, ErrorContext{})
		if attempt >= policy.MaxAttempts || !policy.ShouldRetry(classified) {
			return zero, classified
		}

		delay := BackoffDelay(policy, attempt, rnd)
		slog.Warn("Terminal operation failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"code", classified.Code)
		if onRetry != nil {
			onRetry(attempt, classified, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, classifier.Classify(NetworkFailureFrom(ctx.Err(), errors.Is(ctx.Err(), context.Canceled)), ErrorContext{})
		case <-timer.C:
		}
	}
}
