package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aegis-labs/warden_api/security"
	"github.com/aegis-labs/warden_api/services"
)

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

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []security.Alert
}

func (n *recordingNotifier) SendBanAlert(alert security.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func (n *recordingNotifier) last() security.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alerts[len(n.alerts)-1]
}

// outageStore makes every store operation fail while broken.
type outageStore struct {
	security.Store
	mu     sync.Mutex
	broken bool
}

var errStoreDown = errors.New("connection refused")

func (s *outageStore) setBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

func (s *outageStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *outageStore) Ping(ctx context.Context) error {
	if s.failing() {
		return errStoreDown
	}
	return s.Store.Ping(ctx)
}

func (s *outageStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if s.failing() {
		return 0, false, errStoreDown
	}
	return s.Store.TTL(ctx, key)
}

func (s *outageStore) IncrEx(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.failing() {
		return 0, errStoreDown
	}
	return s.Store.IncrEx(ctx, key, ttl)
}

func (s *outageStore) SlidingWindow(ctx context.Context, key, seqKey string, window time.Duration, limit int) (bool, int64, error) {
	if s.failing() {
		return false, 0, errStoreDown
	}
	return s.Store.SlidingWindow(ctx, key, seqKey, window, limit)
}

type guardFixture struct {
	app      *fiber.App
	clock    *fakeClock
	store    *outageStore
	notifier *recordingNotifier
	engine   *security.Engine
	breaker  *security.Breaker
}

func newGuardFixture(t *testing.T, mutate func(*security.Config)) *guardFixture {
	t.Helper()

	clock := newFakeClock()
	memory := security.NewMemoryStore()
	memory.SetClock(clock.Now)
	store := &outageStore{Store: memory}
	notifier := &recordingNotifier{}

	cfg := security.DefaultConfig()
	cfg.BanThreshold = 3
	if mutate != nil {
		mutate(&cfg)
	}

	breaker := security.NewBreaker(cfg.Breaker, store, nil)
	breaker.SetClock(clock.Now)
	engine := security.NewEngine(store, breaker, notifier, cfg)
	engine.SetClock(clock.Now)
	limiter := security.NewLimiter(store, breaker, cfg)

	guard := &GuardMiddleware{monitoringSvc: &services.MonitoringService{}}
	if err := guard.init(cfg, engine, limiter, breaker); err != nil {
		t.Fatalf("guard init: %v", err)
	}

	app := fiber.New()
	app.Use(guard.Handler())
	app.Get("/api/v1/lessons", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/login", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusBadGateway)
	})

	return &guardFixture{
		app:      app,
		clock:    clock,
		store:    store,
		notifier: notifier,
		engine:   engine,
		breaker:  breaker,
	}
}

func (f *guardFixture) request(t *testing.T, method, target string, header map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("User-Agent", "warden-test-agent/1.0")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestGuardAdmitsCleanRequest(t *testing.T) {
	f := newGuardFixture(t, nil)

	resp := f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGuardShortUserAgentScoresUntilBan(t *testing.T) {
	f := newGuardFixture(t, nil)

	// Below the threshold a short User-Agent only accrues suspicion, the
	// request itself is still served.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/lessons", nil)
		req.Header.Set("User-Agent", "bot")
		resp, err := f.app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d status = %d, want 200 below threshold", i, resp.StatusCode)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/lessons", nil)
	req.Header.Set("User-Agent", "bot")
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("threshold-crossing status = %d, want 403", resp.StatusCode)
	}
}

func TestGuardBansAfterRepeatedSuspiciousURLs(t *testing.T) {
	f := newGuardFixture(t, nil)

	// The first probes only score suspicion events and still get served.
	for i := 0; i < 2; i++ {
		resp := f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("probe %d status = %d, want 200 below threshold", i, resp.StatusCode)
		}
	}

	// The third event crosses the threshold and is blocked.
	resp := f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("threshold-crossing status = %d, want 403", resp.StatusCode)
	}

	// The ban flag is live, clean requests are refused now.
	resp = f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("post-ban status = %d, want 403", resp.StatusCode)
	}

	waitAlerts(t, f.notifier, 1)

	// Retrying while banned does not grow the alert count.
	f.request(t, "GET", "/api/v1/lessons", nil)
	time.Sleep(20 * time.Millisecond)
	if f.notifier.count() != 1 {
		t.Errorf("alerts = %d, want 1 per ban episode", f.notifier.count())
	}

	// The flag lapses and the client is served again.
	f.clock.Advance(6 * time.Minute)
	resp = f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status after ban expiry = %d, want 200", resp.StatusCode)
	}
}

func TestGuardRateLimitsBucket(t *testing.T) {
	f := newGuardFixture(t, func(cfg *security.Config) {
		cfg.BanThreshold = 2
		cfg.BucketRates["login"] = security.RateRule{Window: time.Minute, Limit: 2}
	})

	for i := 0; i < 2; i++ {
		resp := f.request(t, "POST", "/login", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("login %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	// Over the limit but under the ban threshold: scored, still served.
	resp := f.request(t, "POST", "/login", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first over-limit login status = %d, want 200", resp.StatusCode)
	}

	// The second violation reaches the threshold and bans.
	resp = f.request(t, "POST", "/login", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("threshold-crossing login status = %d, want 403", resp.StatusCode)
	}
}

func TestGuardForwardsBelowThresholdRateViolations(t *testing.T) {
	f := newGuardFixture(t, func(cfg *security.Config) {
		cfg.BanThreshold = 15
		cfg.GlobalRate = security.RateRule{Window: time.Minute, Limit: 2}
	})

	f.request(t, "GET", "/api/v1/lessons", nil)
	f.request(t, "GET", "/api/v1/lessons", nil)

	// Exceeding the window alone does not block until suspicion builds up.
	resp := f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("over-limit status = %d, want 200 below threshold", resp.StatusCode)
	}
}

func TestGuardFifteenthViolationBansWithOneAlert(t *testing.T) {
	f := newGuardFixture(t, func(cfg *security.Config) {
		cfg.BanThreshold = 15
	})

	for i := 0; i < 14; i++ {
		resp := f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("violation %d status = %d, want 200 below threshold", i+1, resp.StatusCode)
		}
	}

	resp := f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("15th violation status = %d, want 403", resp.StatusCode)
	}
	waitAlerts(t, f.notifier, 1)

	// Same episode, no extra alert.
	resp = f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("16th request status = %d, want 403", resp.StatusCode)
	}
	time.Sleep(20 * time.Millisecond)
	if f.notifier.count() != 1 {
		t.Errorf("alerts = %d, want exactly 1 for the episode", f.notifier.count())
	}
}

func TestGuardAlertsOnceOnRetryAfterAdminBan(t *testing.T) {
	f := newGuardFixture(t, nil)

	// An operator ban resets the notify guard, so no alert exists yet.
	if err := f.engine.BanNow(context.Background(), "0.0.0.0", "manual", 0); err != nil {
		t.Fatalf("BanNow: %v", err)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("alerts = %d before any retry, want 0", f.notifier.count())
	}

	// The first retry claims the guard and alerts.
	resp := f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("retry status = %d, want 403", resp.StatusCode)
	}
	waitAlerts(t, f.notifier, 1)
	if got := f.notifier.last(); got.Reason != reasonBannedRetry {
		t.Errorf("alert reason = %q, want %q", got.Reason, reasonBannedRetry)
	}

	// Further retries in the same episode stay silent.
	f.request(t, "GET", "/api/v1/lessons", nil)
	time.Sleep(20 * time.Millisecond)
	if f.notifier.count() != 1 {
		t.Errorf("alerts = %d, want 1 per ban episode", f.notifier.count())
	}
}

func TestGuardFailsOpenDuringOutageAndRecovers(t *testing.T) {
	f := newGuardFixture(t, nil)
	f.store.setBroken(true)

	// The first request trips the breaker when the traffic counter fails.
	resp := f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first outage request status = %d, want 200", resp.StatusCode)
	}

	// With the breaker open everything is served, probes included.
	for i := 0; i < 5; i++ {
		resp := f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("outage request %d status = %d, want 200", i, resp.StatusCode)
		}
	}
	if !f.breaker.Open() {
		t.Fatal("breaker should be open during the outage")
	}

	f.store.setBroken(false)
	f.clock.Advance(10 * time.Second)

	// Probe succeeds, enforcement is back.
	for i := 0; i < 3; i++ {
		f.request(t, "GET", "/api/v1/lessons?q=xp_cmdshell", nil)
	}
	resp = f.request(t, "GET", "/api/v1/lessons", nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("post-recovery status = %d, want 403 for the banned client", resp.StatusCode)
	}
}

func TestGuardHonorsForwardedForFromTrustedProxy(t *testing.T) {
	f := newGuardFixture(t, func(cfg *security.Config) {
		cfg.TrustedProxies = []string{"0.0.0.0"}
	})

	if err := f.engine.BanNow(context.Background(), "203.0.113.50", "manual", 0); err != nil {
		t.Fatalf("BanNow: %v", err)
	}

	resp := f.request(t, "GET", "/api/v1/lessons", map[string]string{
		"X-Forwarded-For": "203.0.113.50, 10.0.0.1",
	})
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403 for the banned forwarded client", resp.StatusCode)
	}

	t.Run("garbage forwarded header is a client error", func(t *testing.T) {
		resp := f.request(t, "GET", "/api/v1/lessons", map[string]string{
			"X-Forwarded-For": "not-an-address",
		})
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestGuardIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	f := newGuardFixture(t, nil)

	if err := f.engine.BanNow(context.Background(), "203.0.113.50", "manual", 0); err != nil {
		t.Fatalf("BanNow: %v", err)
	}

	// Header is spoofable, the peer is not trusted, so it is ignored.
	resp := f.request(t, "GET", "/api/v1/lessons", map[string]string{
		"X-Forwarded-For": "203.0.113.50",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200 when the header is untrusted", resp.StatusCode)
	}
}

func TestGuardCountsServerErrors(t *testing.T) {
	f := newGuardFixture(t, nil)

	f.request(t, "GET", "/boom", nil)
	f.request(t, "GET", "/api/v1/lessons", nil)

	rows, err := f.engine.MetricsSummary(context.Background(), 1)
	if err != nil {
		t.Fatalf("MetricsSummary: %v", err)
	}
	if rows[0].Requests != 2 {
		t.Errorf("requests = %d, want 2", rows[0].Requests)
	}
	if rows[0].Errors != 1 {
		t.Errorf("errors = %d, want 1", rows[0].Errors)
	}
}

func waitAlerts(t *testing.T, n *recordingNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("alerts = %d, want %d", n.count(), want)
}
