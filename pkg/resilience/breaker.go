// Package resilience provides circuit breaker and rate limiter primitives
// used around the vector search and embedding paths.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vidmem/vidmem/pkg/fn"
)

// Breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, calls rejected
	StateHalfOpen              // probing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// ProbeMax is the number of calls allowed while half-open.
	ProbeMax int
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
	ProbeMax:      1,
}

// Breaker is a closed/open/half-open circuit breaker. A run of consecutive
// failures trips it open; after Cooldown it admits a bounded number of probe
// calls, and a probe success closes it again.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time // for testing
}

// NewBreaker creates a Breaker, filling zero options from DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.ProbeMax <= 0 {
		opts.ProbeMax = DefaultBreakerOpts.ProbeMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state, applying the open→half-open transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick transitions open→half-open once the cooldown has elapsed. Must hold mu.
func (b *Breaker) tick() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether a call may proceed. Must hold mu.
func (b *Breaker) admit() error {
	switch b.tick() {
	case StateOpen:
		return ErrBreakerOpen
	case StateHalfOpen:
		if b.probes >= b.opts.ProbeMax {
			return ErrBreakerOpen
		}
		b.probes++
	}
	return nil
}

// settle records the outcome of an admitted call. Must hold mu.
func (b *Breaker) settle(failed bool) {
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
		return
	}
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	b.failures = 0
}

// Do executes f through the breaker.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	b.settle(err != nil)
	b.mu.Unlock()
	return err
}

// DoResult is the fn.Result counterpart of Do.
func DoResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return fn.Err[T](err)
	}
	b.mu.Unlock()

	result := f(ctx)

	b.mu.Lock()
	b.settle(result.IsErr())
	b.mu.Unlock()
	return result
}

// BreakerStage wraps an fn.Stage with breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return DoResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
