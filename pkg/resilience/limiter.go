package resilience

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited")

// Limiter wraps a token bucket with call helpers.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a limiter that admits perSecond calls with the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Do executes f if a token is available, otherwise returns ErrRateLimited.
func (l *Limiter) Do(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// DoWait waits for a token then executes f.
func (l *Limiter) DoWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}
