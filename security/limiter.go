package security

import (
	"context"
)

// Limiter applies sliding-window rate rules against the shared store, going
// through the circuit breaker so a store outage degrades to admit-all.
type Limiter struct {
	store   Store
	breaker *Breaker
	cfg     Config
}

// Decision is the outcome of one rate check.
type Decision struct {
	Allowed bool
	// Count is the number of requests inside the window including this one.
	// Zero when the check was skipped because the breaker is open.
	Count int64
	// Bucket names the rule that produced the decision.
	Bucket string
}

func NewLimiter(store Store, breaker *Breaker, cfg Config) *Limiter {
	return &Limiter{store: store, breaker: breaker, cfg: cfg}
}

// AllowGlobal checks the per-address global rule.
func (l *Limiter) AllowGlobal(ctx context.Context, ip string) Decision {
	return l.check(ctx, ip, "global", l.cfg.GlobalRate)
}

// AllowBucket checks the stricter rule for the bucket the request path maps
// to. Paths outside every bucket are admitted with Allowed=true and no store
// round trip.
func (l *Limiter) AllowBucket(ctx context.Context, ip, path string) Decision {
	bucket, ok := l.cfg.BucketByPath[path]
	if !ok {
		return Decision{Allowed: true}
	}
	rule, ok := l.cfg.BucketRates[bucket]
	if !ok {
		return Decision{Allowed: true}
	}
	return l.check(ctx, ip, bucket, rule)
}

func (l *Limiter) check(ctx context.Context, ip, bucket string, rule RateRule) Decision {
	open := Decision{Allowed: true, Bucket: bucket}
	return CallSafely(l.breaker, ctx, open, func(ctx context.Context) (Decision, error) {
		allowed, count, err := l.store.SlidingWindow(ctx,
			KeyRateLimit(ip, bucket), KeyRateLimitSeq(ip, bucket),
			rule.Window, rule.Limit)
		if err != nil {
			return open, err
		}
		return Decision{Allowed: allowed, Count: count, Bucket: bucket}, nil
	})
}
