package security

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a single-process Store used by tests and by redis-less
// development runs. Every operation holds one mutex, which gives it the same
// indivisibility guarantees the Redis adapter gets from server-side scripts
// and transactions.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	windows map[string][]windowMember

	// now is swappable so tests can drive TTL expiry deterministically.
	now func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no TTL
	counter   int64
	isCounter bool
}

type windowMember struct {
	score  int64 // unix ms
	member string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		windows: make(map[string][]windowMember),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.setLocked(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) IncrEx(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		e = memEntry{isCounter: true, counter: 0}
		if ttl > 0 {
			e.expiresAt = s.now().Add(ttl)
		}
	}
	e.counter++
	e.isCounter = true
	s.entries[key] = e
	return e.counter, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.live(key); ok {
			delete(s.entries, key)
			removed++
		}
		delete(s.windows, key)
	}
	return removed, nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttlLocked(key)
}

func (s *MemoryStore) ttlLocked(key string) (time.Duration, bool, error) {
	e, ok := s.live(key)
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return -1, true, nil
	}
	return e.expiresAt.Sub(s.now()), true, nil
}

func (s *MemoryStore) MGet(ctx context.Context, keys ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(keys))
	for i, key := range keys {
		if e, ok := s.live(key); ok {
			if e.isCounter {
				out[i] = formatInt(e.counter)
			} else {
				out[i] = e.value
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) TTLs(ctx context.Context, keys ...string) ([]time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(keys))
	for i, key := range keys {
		ttl, ok, _ := s.ttlLocked(key)
		if !ok {
			out[i] = -2
			continue
		}
		out[i] = ttl
	}
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.entries {
		if _, ok := s.live(key); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Batch(ctx context.Context, fn func(b StoreBatch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := &storeBatchMem{store: s}
	fn(batch)
	for _, op := range batch.ops {
		op()
	}
	return nil
}

type storeBatchMem struct {
	store *MemoryStore
	ops   []func()
}

func (b *storeBatchMem) SetEx(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func() { b.store.setLocked(key, value, ttl) })
}

func (b *storeBatchMem) Del(keys ...string) {
	b.ops = append(b.ops, func() {
		for _, key := range keys {
			delete(b.store.entries, key)
			delete(b.store.windows, key)
		}
	})
}

func (s *MemoryStore) SlidingWindow(ctx context.Context, key, seqKey string, window time.Duration, limit int) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	windowMs := window.Milliseconds()

	seq, _ := s.incrExLocked(seqKey, 2*window)
	member := formatInt(nowMs) + ":" + formatInt(seq)

	members := s.windows[key]
	// Evict everything at or below now-window, then stamp this request.
	kept := members[:0]
	for _, m := range members {
		if m.score > nowMs-windowMs {
			kept = append(kept, m)
		}
	}
	kept = append(kept, windowMember{score: nowMs, member: member})
	s.windows[key] = kept

	// Mirror the ZSET key TTL through the entry table so Scan/TTL see it.
	s.setLocked(key, "", 2*window)

	count := int64(len(kept))
	return count <= int64(limit), count, nil
}

func (s *MemoryStore) incrExLocked(key string, ttl time.Duration) (int64, error) {
	e, ok := s.live(key)
	if !ok {
		e = memEntry{isCounter: true}
		if ttl > 0 {
			e.expiresAt = s.now().Add(ttl)
		}
	}
	e.counter++
	e.isCounter = true
	s.entries[key] = e
	return e.counter, nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
