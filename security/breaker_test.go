package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock hands out a controllable time to components with a SetClock hook.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakePinger struct {
	mu    sync.Mutex
	err   error
	pings int
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return p.err
}

func (p *fakePinger) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePinger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		InitialBackoff: 10 * time.Second,
		BackoffStep:    5 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func TestBreakerClosedPassesThrough(t *testing.T) {
	pinger := &fakePinger{}
	b := NewBreaker(testBreakerConfig(), pinger, nil)

	if !b.Proceed(context.Background()) {
		t.Fatal("closed breaker should admit calls")
	}
	if pinger.count() != 0 {
		t.Errorf("closed breaker pinged %d times, want 0", pinger.count())
	}
}

func TestBreakerOpensOnFailure(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{err: errors.New("connection refused")}
	b := NewBreaker(testBreakerConfig(), pinger, nil)
	b.SetClock(clock.Now)

	b.MarkFailure(errors.New("connection refused"))
	if !b.Open() {
		t.Fatal("breaker should be open after a failure")
	}

	// Inside the backoff window: no store traffic at all.
	if b.Proceed(context.Background()) {
		t.Error("open breaker admitted a call before the retry deadline")
	}
	if pinger.count() != 0 {
		t.Errorf("breaker probed %d times before the deadline, want 0", pinger.count())
	}
}

func TestBreakerSingleProbePerWindow(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{err: errors.New("still down")}
	b := NewBreaker(testBreakerConfig(), pinger, nil)
	b.SetClock(clock.Now)

	b.MarkFailure(errors.New("down"))
	clock.Advance(10 * time.Second)

	// Many callers hit the expired deadline; only the first should ping.
	for i := 0; i < 5; i++ {
		if b.Proceed(context.Background()) {
			t.Fatal("probe against a down store should not admit the call")
		}
	}
	if pinger.count() != 1 {
		t.Errorf("breaker probed %d times in one retry window, want 1", pinger.count())
	}
}

func TestBreakerBackoffEscalatesToCapAndAlertsOnce(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{err: errors.New("still down")}
	alerts := 0
	b := NewBreaker(testBreakerConfig(), pinger, func(backoff time.Duration) {
		alerts++
		if backoff != 30*time.Second {
			t.Errorf("alert fired with backoff %v, want 30s", backoff)
		}
	})
	b.SetClock(clock.Now)

	b.MarkFailure(errors.New("down"))

	// Failed probes walk the schedule 10 -> 15 -> 20 -> 25 -> 30 and hold.
	waits := []time.Duration{10 * time.Second, 15 * time.Second, 20 * time.Second, 25 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, wait := range waits {
		clock.Advance(wait - time.Millisecond)
		if b.Proceed(context.Background()) {
			t.Fatalf("step %d: admitted before the deadline", i)
		}
		if got := pinger.count(); got != i {
			t.Fatalf("step %d: %d probes before deadline, want %d", i, got, i)
		}
		clock.Advance(time.Millisecond)
		if b.Proceed(context.Background()) {
			t.Fatalf("step %d: probe against down store admitted the call", i)
		}
		if got := pinger.count(); got != i+1 {
			t.Fatalf("step %d: %d probes after deadline, want %d", i, got, i+1)
		}
	}

	if alerts != 1 {
		t.Errorf("outage alert fired %d times, want exactly 1", alerts)
	}
}

func TestBreakerRecoversAndResets(t *testing.T) {
	clock := newFakeClock()
	pinger := &fakePinger{err: errors.New("down")}
	alerts := 0
	b := NewBreaker(testBreakerConfig(), pinger, func(time.Duration) { alerts++ })
	b.SetClock(clock.Now)

	b.MarkFailure(errors.New("down"))
	for _, wait := range []time.Duration{10, 15, 20, 25, 30} {
		clock.Advance(wait * time.Second)
		b.Proceed(context.Background())
	}
	if alerts != 1 {
		t.Fatalf("alerts = %d, want 1 before recovery", alerts)
	}

	pinger.setErr(nil)
	clock.Advance(30 * time.Second)
	if !b.Proceed(context.Background()) {
		t.Fatal("successful probe should admit the call")
	}
	if b.Open() {
		t.Fatal("breaker should close after a successful probe")
	}

	// A fresh outage starts over: initial backoff and a fresh alert budget.
	b.MarkFailure(errors.New("down again"))
	pinger.setErr(errors.New("down again"))
	for _, wait := range []time.Duration{10, 15, 20, 25, 30} {
		clock.Advance(wait * time.Second)
		b.Proceed(context.Background())
	}
	if alerts != 2 {
		t.Errorf("alerts = %d, want 2 after a second full escalation", alerts)
	}
}

func TestCallSafely(t *testing.T) {
	t.Run("closed breaker returns the operation value", func(t *testing.T) {
		b := NewBreaker(testBreakerConfig(), &fakePinger{}, nil)
		got := CallSafely(b, context.Background(), -1, func(ctx context.Context) (int, error) {
			return 42, nil
		})
		if got != 42 {
			t.Errorf("CallSafely = %d, want 42", got)
		}
	})

	t.Run("operation error opens the breaker and yields the default", func(t *testing.T) {
		b := NewBreaker(testBreakerConfig(), &fakePinger{err: errors.New("down")}, nil)
		got := CallSafely(b, context.Background(), -1, func(ctx context.Context) (int, error) {
			return 0, errors.New("broken pipe")
		})
		if got != -1 {
			t.Errorf("CallSafely = %d, want default -1", got)
		}
		if !b.Open() {
			t.Error("breaker should open after the operation error")
		}
	})

	t.Run("open breaker skips the operation", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBreaker(testBreakerConfig(), &fakePinger{err: errors.New("down")}, nil)
		b.SetClock(clock.Now)
		b.MarkFailure(errors.New("down"))

		called := false
		got := CallSafely(b, context.Background(), "fallback", func(ctx context.Context) (string, error) {
			called = true
			return "live", nil
		})
		if got != "fallback" {
			t.Errorf("CallSafely = %q, want %q", got, "fallback")
		}
		if called {
			t.Error("operation ran while the breaker was open")
		}
	})
}
