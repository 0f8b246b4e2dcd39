package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy is an exponential backoff retry policy with symmetric jitter.
type Policy struct {
	// Retries is the number of attempts after the first one. Negative means 0.
	Retries int

	MinDelay time.Duration
	MaxDelay time.Duration
	Factor   float64

	// Jitter perturbs each delay by up to +/- this fraction of the capped value
	Jitter float64

	// RetryOn decides whether err from the given (zero-based) attempt is retried.
	// Nil retries every error.
	RetryOn func(err error, attempt int) bool

	// Sleep waits d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultPolicy retries twice, starting at 200ms and capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		Retries:  2,
		MinDelay: 200 * time.Millisecond,
		MaxDelay: 2000 * time.Millisecond,
		Factor:   2,
		Jitter:   0.2,
	}
}

// Delay returns the wait after the given zero-based attempt:
// min(MinDelay * Factor^attempt, MaxDelay) plus jitter, floored at zero.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.MinDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		random := rand.Float64
		if p.Rand != nil {
			random = p.Rand
		}
		delay += delay * p.Jitter * (random()*2 - 1)
	}

	if delay < 0 {
		return 0
	}
	return time.Duration(math.Round(delay))
}

// Do calls fn until it succeeds, RetryOn refuses, or retries are exhausted.
// The last error is returned; a cancelled ctx ends the loop early.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	if p.Retries < 0 {
		p.Retries = 0
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt >= p.Retries {
			break
		}
		if p.RetryOn != nil && !p.RetryOn(err, attempt) {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return zero, errors.Join(serr, lastErr)
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
