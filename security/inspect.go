package security

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// Inspection queries back the operator-facing views of the keyspace. These
// run outside the breaker: an admin asking for the ban list during an outage
// should see the error, not an empty page.

// BanEntry is one active ban flag.
type BanEntry struct {
	IP  string
	TTL time.Duration
}

// SuspectEntry is one live suspicion counter.
type SuspectEntry struct {
	IP    string
	Score int64
	TTL   time.Duration
}

// MinuteMetrics aggregates one minute bucket of traffic counters.
type MinuteMetrics struct {
	Minute   int64
	Requests int64
	Errors   int64
	Bans     int64
}

// CurrentBans lists every active ban, soonest to expire first.
func (e *Engine) CurrentBans(ctx context.Context) ([]BanEntry, error) {
	keys, err := e.store.Scan(ctx, BanScanPattern())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []BanEntry{}, nil
	}
	ttls, err := e.store.TTLs(ctx, keys...)
	if err != nil {
		return nil, err
	}
	entries := make([]BanEntry, 0, len(keys))
	for i, key := range keys {
		ip, ok := IPFromBanKey(key)
		if !ok || ttls[i] == -2 {
			continue
		}
		entries = append(entries, BanEntry{IP: ip, TTL: ttls[i]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TTL < entries[j].TTL })
	return entries, nil
}

// TopSuspicious lists the highest suspicion scores, at most limit entries.
func (e *Engine) TopSuspicious(ctx context.Context, limit int) ([]SuspectEntry, error) {
	keys, err := e.store.Scan(ctx, SuspiciousScanPattern())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []SuspectEntry{}, nil
	}
	values, err := e.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	ttls, err := e.store.TTLs(ctx, keys...)
	if err != nil {
		return nil, err
	}
	entries := make([]SuspectEntry, 0, len(keys))
	for i, key := range keys {
		ip, ok := IPFromSuspiciousKey(key)
		if !ok || values[i] == "" || ttls[i] == -2 {
			continue
		}
		score, err := strconv.ParseInt(values[i], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, SuspectEntry{IP: ip, Score: score, TTL: ttls[i]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].TTL > entries[j].TTL
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MetricsSummary returns the last minutes of traffic counters, newest first.
// Minutes with no recorded traffic come back zeroed, so dashboards always
// get a full row per minute.
func (e *Engine) MetricsSummary(ctx context.Context, minutes int) ([]MinuteMetrics, error) {
	if minutes <= 0 {
		minutes = 10
	}
	current := e.minute()

	keys := make([]string, 0, minutes*3)
	for i := 0; i < minutes; i++ {
		m := current - int64(i)
		keys = append(keys, KeyMetricRequests(m), KeyMetricErrors(m), KeyMetricBans(m))
	}
	values, err := e.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]MinuteMetrics, minutes)
	for i := 0; i < minutes; i++ {
		out[i] = MinuteMetrics{
			Minute:   current - int64(i),
			Requests: parseCount(values[i*3]),
			Errors:   parseCount(values[i*3+1]),
			Bans:     parseCount(values[i*3+2]),
		}
	}
	return out, nil
}

func parseCount(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
