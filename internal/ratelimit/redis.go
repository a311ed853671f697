package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills and consumes a bucket stored as a hash in one atomic
// step. Time comes from the Redis server so replicas with skewed clocks
// share one view. Returns {allowed, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

tokens = math.min(burst, tokens + math.max(0, now - ts) / 1000 * rate)

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], math.ceil(burst / rate * 1000) + 1000)
return {allowed, wait}
`)

// RedisLimiter implements Limiter with a token bucket per key held in Redis.
// The client is owned by the caller; Close does not close it.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	rate   float64
	burst  int
}

// NewRedisLimiter creates a limiter with the same semantics as
// NewMemoryLimiter. prefix namespaces the keys it writes.
func NewRedisLimiter(rdb redis.Scripter, prefix string, rate float64, burst int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, rate: rate, burst: burst}
}

// Allow consumes one token from the bucket for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := tokenBucket.Run(ctx, l.rdb, []string{l.prefix + key}, l.rate, l.burst).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: redis: unexpected script result %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

// Close is a no-op; the caller closes the client.
func (l *RedisLimiter) Close() error { return nil }

// OpenRedis connects to the Redis server at url (redis:// or rediss://)
// and verifies it answers a ping.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return rdb, nil
}
