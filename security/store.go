package security

import (
	"context"
	"time"
)

// Store is the capability contract against the shared state store. Every
// operation may fail with a connectivity error and must respect the
// context deadline; callers on the request path go through the circuit
// breaker and never see those errors directly.
type Store interface {
	// Ping probes liveness. Used by the breaker when deciding to close.
	Ping(ctx context.Context) error

	// Get returns the string value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetEx writes a value with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes a value with a TTL only if the key is absent. Returns
	// true when this call created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrEx atomically increments a counter, applying the TTL when the
	// increment creates the key. Single indivisible operation, not
	// check-then-set.
	IncrEx(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Del removes keys, returning how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// TTL reports the remaining lifetime of a key: -2 equivalent (key
	// missing) maps to ok=false, a key without TTL reports ttl < 0 with
	// ok=true.
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// MGet fetches many values in one round trip; missing keys yield "".
	MGet(ctx context.Context, keys ...string) ([]string, error)

	// TTLs fetches remaining lifetimes for many keys in one round trip,
	// -1 for keys without TTL and -2 for missing keys (store convention).
	TTLs(ctx context.Context, keys ...string) ([]time.Duration, error)

	// Scan iterates keys matching a glob pattern without blocking the store.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Batch queues commands and applies them as one transactional unit.
	Batch(ctx context.Context, fn func(b StoreBatch)) error

	// SlidingWindow runs the admission algorithm as one indivisible unit:
	// stamp the request into the window set, evict expired entries, count,
	// refresh TTLs. Returns whether the request is admitted and the number
	// of requests inside the window including this one.
	SlidingWindow(ctx context.Context, key, seqKey string, window time.Duration, limit int) (allowed bool, count int64, err error)
}

// StoreBatch queues commands inside Store.Batch. Implementations apply the
// queued commands atomically relative to other writers.
type StoreBatch interface {
	SetEx(key, value string, ttl time.Duration)
	Del(keys ...string)
}
