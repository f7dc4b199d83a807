// Package retry wraps versioned writes and flaky downstream calls in a
// bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Jitter is the randomization factor; zero gives a deterministic schedule.
	Jitter float64
}

// Default suits optimistic-concurrency retries: a few quick attempts.
var Default = Policy{MaxAttempts: 5, Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.3}

// OnStale re-runs fn while it fails with apperr.ErrStaleVersion. fn must
// re-read the row it is about to write.
func OnStale(ctx context.Context, fn func(ctx context.Context) error) error {
	return Default.OnStale(ctx, fn)
}

func (p Policy) OnStale(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.Do(ctx, func(err error) bool { return errors.Is(err, apperr.ErrStaleVersion) }, fn)
}

// OnTransient re-runs fn while it fails with apperr.ErrTransient.
func (p Policy) OnTransient(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.Do(ctx, apperr.IsTransient, fn)
}

// Do retries fn while retryable(err) holds, up to MaxAttempts calls. The last
// error is returned unchanged.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(p.exponential(), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// Delay returns the wait before retry number attempt (1-based) under p,
// ignoring jitter. Used for persisted retry schedules.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.exponential()
	b.RandomizationFactor = 0
	b.Reset()
	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
