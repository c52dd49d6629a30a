package security

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pinger is the slice of the store the breaker needs for recovery probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OutageAlertFunc is invoked once per continuous outage, the first time the
// backoff reaches its cap. It must not block.
type OutageAlertFunc func(backoff time.Duration)

// Breaker guards every store access in the process. While closed, calls go
// through; after any store error it opens and callers fail open (skip the
// store, use their declared default) until a probe succeeds.
//
// All state lives behind one mutex and the mutex is never held across I/O:
// the goroutine that finds the retry deadline passed claims the probe by
// pushing the deadline forward, unlocks, and pings on its own.
type Breaker struct {
	mu        sync.Mutex
	down      bool
	nextRetry time.Time
	backoff   time.Duration
	alerted   bool

	cfg     BreakerConfig
	pinger  Pinger
	onAlert OutageAlertFunc

	lastWarn time.Time

	// now is swappable for tests.
	now func() time.Time
}

// warnInterval throttles outage logging so a sustained outage does not turn
// into a log storm.
const warnInterval = 10 * time.Second

// NewBreaker builds an independent breaker. onAlert may be nil.
func NewBreaker(cfg BreakerConfig, pinger Pinger, onAlert OutageAlertFunc) *Breaker {
	return &Breaker{
		cfg:     cfg,
		backoff: cfg.InitialBackoff,
		pinger:  pinger,
		onAlert: onAlert,
		now:     time.Now,
	}
}

// SetClock replaces the breaker's clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Open reports whether the breaker currently skips store calls, without
// triggering a probe.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

// Proceed decides whether a store call should be attempted. When the breaker
// is open and the retry deadline has passed, it issues a single recovery
// ping; on success the breaker closes and the call proceeds.
func (b *Breaker) Proceed(ctx context.Context) bool {
	b.mu.Lock()
	if !b.down {
		b.mu.Unlock()
		return true
	}
	if b.now().Before(b.nextRetry) {
		b.mu.Unlock()
		return false
	}
	// Claim the probe slot so concurrent requests don't stampede the store.
	b.nextRetry = b.now().Add(b.backoff)
	b.mu.Unlock()

	if err := b.pinger.Ping(ctx); err != nil {
		b.probeFailed(err)
		return false
	}
	b.recover()
	return true
}

// MarkFailure records a store operation error and opens the breaker.
func (b *Breaker) MarkFailure(err error) {
	b.mu.Lock()
	wasDown := b.down
	if !wasDown {
		b.down = true
		b.backoff = b.cfg.InitialBackoff
		b.nextRetry = b.now().Add(b.backoff)
	}
	warn := b.shouldWarnLocked()
	b.mu.Unlock()

	if warn {
		log.WithError(err).Warn("state store unreachable, admission checks fail open")
	}
}

func (b *Breaker) probeFailed(err error) {
	var alert OutageAlertFunc

	b.mu.Lock()
	b.backoff += b.cfg.BackoffStep
	if b.backoff >= b.cfg.MaxBackoff {
		b.backoff = b.cfg.MaxBackoff
		if !b.alerted {
			b.alerted = true
			alert = b.onAlert
		}
	}
	backoff := b.backoff
	b.nextRetry = b.now().Add(backoff)
	warn := b.shouldWarnLocked()
	b.mu.Unlock()

	if warn {
		log.WithError(err).WithField("backoff", backoff).Warn("state store probe failed, staying open")
	}
	if alert != nil {
		alert(backoff)
	}
}

func (b *Breaker) recover() {
	b.mu.Lock()
	b.down = false
	b.backoff = b.cfg.InitialBackoff
	b.alerted = false
	b.mu.Unlock()

	log.Info("state store recovered, admission checks enforced again")
}

func (b *Breaker) shouldWarnLocked() bool {
	now := b.now()
	if now.Sub(b.lastWarn) < warnInterval {
		return false
	}
	b.lastWarn = now
	return true
}

// CallSafely runs a store-backed operation through the breaker. When the
// breaker is open (or the operation fails, which opens it) the declared
// default is returned instead; store trouble never surfaces to the caller.
func CallSafely[T any](b *Breaker, ctx context.Context, def T, op func(ctx context.Context) (T, error)) T {
	if !b.Proceed(ctx) {
		return def
	}
	val, err := op(ctx)
	if err != nil {
		b.MarkFailure(err)
		return def
	}
	return val
}
