package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript runs the whole admission algorithm server-side so
// concurrent requests for the same client+bucket cannot interleave. It uses
// the store's own clock (TIME) so application clock skew never widens or
// shrinks the window.
//
// KEYS[1] = window sorted set, KEYS[2] = member sequence counter
// ARGV[1] = window length ms, ARGV[2] = limit
const slidingWindowScript = `
local t      = redis.call('TIME')
local now    = (t[1] * 1000) + math.floor(t[2] / 1000)
local window = tonumber(ARGV[1])
local limit  = tonumber(ARGV[2])

local seq = redis.call('INCR', KEYS[2])
if seq == 1 then
  redis.call('PEXPIRE', KEYS[2], window * 2)
end
local member = tostring(now) .. ':' .. tostring(seq)

redis.call('ZADD', KEYS[1], now, member)
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
redis.call('PEXPIRE', KEYS[1], window * 2)

if count <= limit then
  return {1, count}
end
return {0, count}
`

// incrExScript increments a counter and stamps the TTL only when the
// increment created the key, as one indivisible unit.
const incrExScript = `
local v = redis.call('INCR', KEYS[1])
if v == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`

// RedisStore adapts a pooled go-redis client to the Store contract.
type RedisStore struct {
	client *redis.Client

	windowScript *redis.Script
	incrScript   *redis.Script
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Scripts are registered lazily via
// EVALSHA with EVAL fallback, so a flushed script cache self-heals.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:       client,
		windowScript: redis.NewScript(slidingWindowScript),
		incrScript:   redis.NewScript(incrExScript),
	}
}

// Client exposes the underlying connection for collaborators that need
// capabilities outside the Store contract.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) IncrEx(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if d == -2 {
		return 0, false, nil
	}
	// d == -1: key exists without TTL.
	return d, true, nil
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected MGET reply type %T for key %s", v, keys[i])
		}
		out[i] = str
	}
	return out, nil
}

func (s *RedisStore) TTLs(ctx context.Context, keys ...string) ([]time.Duration, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]time.Duration, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 2000).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b *redisBatch) SetEx(key, value string, ttl time.Duration) {
	b.pipe.Set(b.ctx, key, value, ttl)
}

func (b *redisBatch) Del(keys ...string) {
	b.pipe.Del(b.ctx, keys...)
}

func (s *RedisStore) Batch(ctx context.Context, fn func(b StoreBatch)) error {
	pipe := s.client.TxPipeline()
	fn(&redisBatch{ctx: ctx, pipe: pipe})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SlidingWindow(ctx context.Context, key, seqKey string, window time.Duration, limit int) (bool, int64, error) {
	res, err := s.windowScript.Run(ctx, s.client, []string{key, seqKey}, window.Milliseconds(), limit).Result()
	if err != nil {
		return false, 0, err
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected sliding window reply: %v", res)
	}
	flag, ok1 := reply[0].(int64)
	count, ok2 := reply[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected sliding window reply types: %v", res)
	}
	return flag == 1, count, nil
}
