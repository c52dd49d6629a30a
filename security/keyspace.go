// Package security implements the request-admission layer: the keyspace
// codec, the shared-store capability interface and its adapters, the circuit
// breaker, the sliding-window rate limiter and the suspicion/ban engine.
package security

import "fmt"

// Key layout is centralized here. Every other component calls these builders,
// so changing the layout means touching this file only. The formats are also
// the contract external dashboards read, keep them stable.

// KeyBan flags an address as banned. Presence with TTL > 0 means banned.
func KeyBan(ip string) string {
	return fmt.Sprintf("ban:ip:%s", ip)
}

// KeyBanNotify guards alert dispatch, at most one alert per ban episode.
func KeyBanNotify(ip string) string {
	return fmt.Sprintf("ban:notify:%s", ip)
}

// KeySuspicious holds the accumulated suspicion score for the 5-minute window.
func KeySuspicious(ip string) string {
	return fmt.Sprintf("sus:ip:%s:5min", ip)
}

// KeyMetricRequests counts requests for one minute bucket (epoch seconds / 60).
func KeyMetricRequests(minute int64) string {
	return fmt.Sprintf("metric:req:%d", minute)
}

// KeyMetricErrors counts 5xx responses for one minute bucket.
func KeyMetricErrors(minute int64) string {
	return fmt.Sprintf("metric:5xx:%d", minute)
}

// KeyMetricBans counts bans applied during one minute bucket.
func KeyMetricBans(minute int64) string {
	return fmt.Sprintf("metric:bans:%d", minute)
}

// KeyRateLimit is the sorted set holding timestamped entries for one
// address inside one bucket, e.g. rl:global:203.0.113.10.
func KeyRateLimit(ip, bucket string) string {
	return fmt.Sprintf("rl:%s:%s", bucket, ip)
}

// KeyRateLimitSeq is the sequence counter paired with KeyRateLimit, used to
// build unique members when several requests land in the same millisecond.
func KeyRateLimitSeq(ip, bucket string) string {
	return fmt.Sprintf("rl:%s:%s:seq", bucket, ip)
}

const (
	banKeyPrefix        = "ban:ip:"
	suspiciousKeyPrefix = "sus:ip:"
	suspiciousKeySuffix = ":5min"
)

// BanScanPattern matches every active ban flag.
func BanScanPattern() string { return banKeyPrefix + "*" }

// SuspiciousScanPattern matches every live suspicion counter.
func SuspiciousScanPattern() string { return suspiciousKeyPrefix + "*" + suspiciousKeySuffix }

// IPFromBanKey extracts the address from a ban flag key. Returns false for
// keys that do not follow the layout.
func IPFromBanKey(key string) (string, bool) {
	if len(key) <= len(banKeyPrefix) || key[:len(banKeyPrefix)] != banKeyPrefix {
		return "", false
	}
	return key[len(banKeyPrefix):], true
}

// IPFromSuspiciousKey extracts the address from a suspicion counter key.
func IPFromSuspiciousKey(key string) (string, bool) {
	if len(key) <= len(suspiciousKeyPrefix)+len(suspiciousKeySuffix) {
		return "", false
	}
	if key[:len(suspiciousKeyPrefix)] != suspiciousKeyPrefix {
		return "", false
	}
	if key[len(key)-len(suspiciousKeySuffix):] != suspiciousKeySuffix {
		return "", false
	}
	return key[len(suspiciousKeyPrefix) : len(key)-len(suspiciousKeySuffix)], true
}
