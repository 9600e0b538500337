package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidmem/vidmem/pkg/fn"
)

func testBreaker(opts BreakerOpts) (*Breaker, *time.Time) {
	b := NewBreaker(opts)
	clock := time.Unix(1700000000, 0)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(BreakerOpts{FailThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("open breaker should reject, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := testBreaker(BreakerOpts{FailThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()
	boom := errors.New("boom")

	b.Do(ctx, func(context.Context) error { return boom })
	b.Do(ctx, func(context.Context) error { return nil })
	b.Do(ctx, func(context.Context) error { return boom })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := testBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Minute, ProbeMax: 1})
	ctx := context.Background()

	b.Do(ctx, func(context.Context) error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatal("should be open")
	}

	*clock = clock.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatal("cooldown elapsed, should be half-open")
	}

	// Probe succeeds and closes the breaker.
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := testBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Minute, ProbeMax: 1})
	ctx := context.Background()

	b.Do(ctx, func(context.Context) error { return errors.New("boom") })
	*clock = clock.Add(time.Minute)

	b.Do(ctx, func(context.Context) error { return errors.New("still down") })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
}

func TestBreaker_ProbeMaxBoundsHalfOpenCalls(t *testing.T) {
	b, clock := testBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Minute, ProbeMax: 1})
	ctx := context.Background()

	b.Do(ctx, func(context.Context) error { return errors.New("boom") })
	*clock = clock.Add(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Do(ctx, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if err := b.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("second probe should be rejected, got %v", err)
	}
	close(release)
}

func TestDoResult_PropagatesBreakerState(t *testing.T) {
	b, _ := testBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	r := DoResult(b, ctx, func(context.Context) fn.Result[int] {
		return fn.Err[int](errors.New("boom"))
	})
	if r.IsOk() {
		t.Fatal("should fail")
	}

	r = DoResult(b, ctx, func(context.Context) fn.Result[int] { return fn.Ok(1) })
	if _, err := r.Unwrap(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerStage(t *testing.T) {
	b, _ := testBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Minute})
	stage := BreakerStage(b, func(_ context.Context, n int) fn.Result[int] {
		return fn.Ok(n + 1)
	})
	r := stage(context.Background(), 1)
	if v := r.UnwrapOr(0); v != 2 {
		t.Fatalf("stage = %d, want 2", v)
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(0, 2)
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst of 2 should admit two calls")
	}
	if l.Allow() {
		t.Fatal("third call should be rejected")
	}
}

func TestLimiter_Do(t *testing.T) {
	l := NewLimiter(0, 1)
	ctx := context.Background()

	if err := l.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call err = %v", err)
	}
	if err := l.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second call err = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_DoWait(t *testing.T) {
	l := NewLimiter(0, 1)
	if err := l.DoWait(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call err = %v", err)
	}

	// No refill and no tokens left: a cancelled context must end the wait.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.DoWait(cancelled, func(context.Context) error { return nil }); err == nil {
		t.Fatal("exhausted limiter with cancelled context must fail")
	}
}
