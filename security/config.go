package security

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateRule is one sliding-window policy: at most Limit requests inside the
// trailing Window.
type RateRule struct {
	Window time.Duration
	Limit  int
}

// BreakerConfig controls the circuit breaker backoff schedule.
type BreakerConfig struct {
	InitialBackoff time.Duration
	BackoffStep    time.Duration
	MaxBackoff     time.Duration
}

// Config is the full configuration surface of the admission layer. Zero
// values are filled in by DefaultConfig; env overrides are applied by
// ConfigFromEnv.
type Config struct {
	// GlobalRate applies to every request regardless of path.
	GlobalRate RateRule
	// BucketRates maps bucket name -> rule for sensitive path groups.
	BucketRates map[string]RateRule
	// BucketByPath maps request path -> bucket name.
	BucketByPath map[string]string

	// BanThreshold is the suspicion score at which a client is banned.
	BanThreshold int64
	// BanTTL is how long a ban flag lives.
	BanTTL time.Duration
	// SuspicionTTL is the rolling window of the suspicion counter.
	SuspicionTTL time.Duration
	// MetricTTL is the lifetime of per-minute counters.
	MetricTTL time.Duration

	// SuspiciousPatterns are lowercase substrings matched against path+query.
	SuspiciousPatterns []string
	// MinUserAgentLen rejects shorter (or empty) User-Agent headers as bots.
	MinUserAgentLen int

	// TrustedProxies lists peer addresses or CIDRs whose X-Forwarded-For
	// header is honored when resolving the client address.
	TrustedProxies []string

	Breaker BreakerConfig
}

// DefaultConfig mirrors the production thresholds: 120 req/min globally,
// stricter login/upload buckets, ban at 15 suspicion events per 5 minutes.
func DefaultConfig() Config {
	return Config{
		GlobalRate: RateRule{Window: 60 * time.Second, Limit: 120},
		BucketRates: map[string]RateRule{
			"login":  {Window: 60 * time.Second, Limit: 10},
			"upload": {Window: 60 * time.Second, Limit: 20},
		},
		BucketByPath: map[string]string{
			"/login":      "login",
			"/auth/token": "login",
			"/upload":     "upload",
			"/api/upload": "upload",
		},
		BanThreshold: 15,
		BanTTL:       60 * time.Second,
		SuspicionTTL: 300 * time.Second,
		MetricTTL:    180 * time.Second,
		SuspiciousPatterns: []string{
			"../", "<script", " onerror=", "javascript:", "union select",
			"' or 1=1", "--", "/*", "*/", "xp_cmdshell",
		},
		MinUserAgentLen: 6,
		Breaker: BreakerConfig{
			InitialBackoff: 10 * time.Second,
			BackoffStep:    5 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// ConfigFromEnv starts from DefaultConfig and applies environment overrides.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.GlobalRate.Window = envDurationMs("RATE_GLOBAL_WINDOW_MS", cfg.GlobalRate.Window)
	cfg.GlobalRate.Limit = envInt("RATE_GLOBAL_LIMIT", cfg.GlobalRate.Limit)

	for _, bucket := range []string{"login", "upload"} {
		rule := cfg.BucketRates[bucket]
		upper := strings.ToUpper(bucket)
		rule.Window = envDurationMs("RATE_"+upper+"_WINDOW_MS", rule.Window)
		rule.Limit = envInt("RATE_"+upper+"_LIMIT", rule.Limit)
		cfg.BucketRates[bucket] = rule
	}

	cfg.BanThreshold = int64(envInt("SUSPICIOUS_BAN_THRESHOLD", int(cfg.BanThreshold)))
	cfg.BanTTL = envDurationSec("BAN_TTL_SECONDS", cfg.BanTTL)
	cfg.MetricTTL = envDurationSec("METRIC_TTL_SECONDS", cfg.MetricTTL)

	if raw := os.Getenv("SUSPICIOUS_PATTERNS"); raw != "" {
		cfg.SuspiciousPatterns = splitList(raw)
	}
	if raw := os.Getenv("TRUSTED_PROXIES"); raw != "" {
		cfg.TrustedProxies = splitList(raw)
	}

	cfg.Breaker.InitialBackoff = envDurationSec("BREAKER_INITIAL_SECONDS", cfg.Breaker.InitialBackoff)
	cfg.Breaker.BackoffStep = envDurationSec("BREAKER_STEP_SECONDS", cfg.Breaker.BackoffStep)
	cfg.Breaker.MaxBackoff = envDurationSec("BREAKER_MAX_SECONDS", cfg.Breaker.MaxBackoff)

	return cfg
}

// Validate rejects configurations that would silently disable enforcement.
func (c Config) Validate() error {
	if c.GlobalRate.Window <= 0 || c.GlobalRate.Limit < 0 {
		return fmt.Errorf("invalid global rate rule: window=%v limit=%d", c.GlobalRate.Window, c.GlobalRate.Limit)
	}
	for bucket, rule := range c.BucketRates {
		if rule.Window <= 0 || rule.Limit < 0 {
			return fmt.Errorf("invalid rate rule for bucket %q: window=%v limit=%d", bucket, rule.Window, rule.Limit)
		}
	}
	for path, bucket := range c.BucketByPath {
		if _, ok := c.BucketRates[bucket]; !ok {
			return fmt.Errorf("path %q maps to unknown bucket %q", path, bucket)
		}
	}
	if c.BanThreshold <= 0 {
		return fmt.Errorf("ban threshold must be positive, got %d", c.BanThreshold)
	}
	if c.BanTTL <= 0 || c.SuspicionTTL <= 0 || c.MetricTTL <= 0 {
		return fmt.Errorf("all TTLs must be positive")
	}
	if c.Breaker.InitialBackoff <= 0 || c.Breaker.BackoffStep <= 0 || c.Breaker.MaxBackoff < c.Breaker.InitialBackoff {
		return fmt.Errorf("invalid breaker backoff schedule: %+v", c.Breaker)
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid trusted proxy CIDR %q: %w", proxy, err)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid trusted proxy address %q", proxy)
		}
	}
	return nil
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func envDurationMs(name string, def time.Duration) time.Duration {
	if v := envInt(name, -1); v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}

func envDurationSec(name string, def time.Duration) time.Duration {
	if v := envInt(name, -1); v > 0 {
		return time.Duration(v) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
