package security

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Alert describes one security notification.
type Alert struct {
	IP     string
	Reason string
	Score  int64
	At     time.Time
}

// Notifier delivers alerts to operators. Implementations must tolerate
// being called from request goroutines and should not block them.
type Notifier interface {
	SendBanAlert(alert Alert)
}

// Engine owns the suspicion scores and ban flags. Request-path reads and
// writes go through the breaker and fail open; the administrative methods
// surface store errors so operators see a failed command as failed.
type Engine struct {
	store    Store
	breaker  *Breaker
	notifier Notifier
	cfg      Config

	// now is swappable for tests.
	now func() time.Time
}

func NewEngine(store Store, breaker *Breaker, notifier Notifier, cfg Config) *Engine {
	return &Engine{
		store:    store,
		breaker:  breaker,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Threshold exposes the configured ban threshold for the admission path.
func (e *Engine) Threshold() int64 { return e.cfg.BanThreshold }

// IsBanned reports whether the address carries a live ban flag. During a
// store outage everyone looks unbanned.
func (e *Engine) IsBanned(ctx context.Context, ip string) bool {
	return CallSafely(e.breaker, ctx, false, func(ctx context.Context) (bool, error) {
		_, ok, err := e.store.TTL(ctx, KeyBan(ip))
		if err != nil {
			return false, err
		}
		// A flag without TTL still counts as banned until removed.
		return ok, nil
	})
}

// MarkSuspicious bumps the address's suspicion score inside its rolling
// window and returns the new score. Returns 0 when the store is down, which
// keeps the score below any valid threshold.
func (e *Engine) MarkSuspicious(ctx context.Context, ip string) int64 {
	return CallSafely(e.breaker, ctx, 0, func(ctx context.Context) (int64, error) {
		return e.store.IncrEx(ctx, KeySuspicious(ip), e.cfg.SuspicionTTL)
	})
}

// BanNow flags the address for ttl (config default when ttl <= 0) and clears
// the notify guard so the next ban episode alerts again. The two writes land
// as one transactional unit. The error is surfaced for admin callers; the
// admission path wraps this call in the breaker itself.
func (e *Engine) BanNow(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = e.cfg.BanTTL
	}
	err := e.store.Batch(ctx, func(b StoreBatch) {
		b.SetEx(KeyBan(ip), reason, ttl)
		b.Del(KeyBanNotify(ip))
	})
	if err != nil {
		return err
	}
	e.CountBan(ctx)
	log.WithFields(log.Fields{"ip": ip, "reason": reason, "ttl": ttl}).Warn("client banned")
	return nil
}

// Unban removes the ban flag, the notify guard and the suspicion score so
// the address starts clean. Returns whether a flag actually existed; the
// guard and score are cleanup only and do not count.
func (e *Engine) Unban(ctx context.Context, ip string) (bool, error) {
	removed, err := e.store.Del(ctx, KeyBan(ip))
	if err != nil {
		return false, err
	}
	if _, err := e.store.Del(ctx, KeyBanNotify(ip), KeySuspicious(ip)); err != nil {
		return false, err
	}
	if removed > 0 {
		log.WithField("ip", ip).Info("client unbanned")
	}
	return removed > 0, nil
}

// UnbanBulk unbans each address, reporting which ones carried a flag.
func (e *Engine) UnbanBulk(ctx context.Context, ips []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ips))
	for _, ip := range ips {
		ok, err := e.Unban(ctx, ip)
		if err != nil {
			return nil, err
		}
		out[ip] = ok
	}
	return out, nil
}

// BanTTL reports the remaining lifetime of an address's ban flag. ok=false
// means the address is not banned.
func (e *Engine) BanTTL(ctx context.Context, ip string) (time.Duration, bool, error) {
	return e.store.TTL(ctx, KeyBan(ip))
}

// NotifyOnce dispatches one alert per ban episode. The guard is claimed
// synchronously so concurrent request goroutines cannot double-send; the
// actual delivery runs on its own goroutine so the request never waits on
// the channel.
func (e *Engine) NotifyOnce(ctx context.Context, alert Alert) {
	if e.notifier == nil {
		return
	}
	claimed := CallSafely(e.breaker, ctx, false, func(ctx context.Context) (bool, error) {
		return e.store.SetNX(ctx, KeyBanNotify(alert.IP), "1", e.cfg.BanTTL)
	})
	if !claimed {
		return
	}
	if alert.At.IsZero() {
		alert.At = e.now()
	}
	go e.notifier.SendBanAlert(alert)
}

// CountRequest bumps the current minute's request counter. Best effort.
func (e *Engine) CountRequest(ctx context.Context) {
	e.bumpMetric(ctx, KeyMetricRequests(e.minute()))
}

// CountError bumps the current minute's 5xx counter. Best effort.
func (e *Engine) CountError(ctx context.Context) {
	e.bumpMetric(ctx, KeyMetricErrors(e.minute()))
}

// CountBan bumps the current minute's ban counter. Best effort.
func (e *Engine) CountBan(ctx context.Context) {
	e.bumpMetric(ctx, KeyMetricBans(e.minute()))
}

func (e *Engine) bumpMetric(ctx context.Context, key string) {
	CallSafely(e.breaker, ctx, int64(0), func(ctx context.Context) (int64, error) {
		return e.store.IncrEx(ctx, key, e.cfg.MetricTTL)
	})
}

func (e *Engine) minute() int64 {
	return e.now().Unix() / 60
}
