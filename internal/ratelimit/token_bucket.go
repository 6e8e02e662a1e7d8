package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "thumbnail:upload:rl:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining is the token count left after this call.
	Remaining float64
	// RetryAfter is how long until the next token is available; zero when allowed.
	RetryAfter time.Duration
}

// TokenBucket limits uploads per client with a token bucket kept in Redis so
// every API replica shares the same budget.
type TokenBucket struct {
	client   redis.Scripter
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client redis.Scripter, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token for the given client if available.
func (b *TokenBucket) Allow(ctx context.Context, clientKey string) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{keyPrefix + clientKey},
		b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %T", res)
	}
	allowed, _ := arr[0].(int64)
	d := Decision{
		Allowed:   allowed == 1,
		Remaining: toFloat(arr[1]),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(math.Ceil(toFloat(arr[2]))) * time.Millisecond
	}
	return d, nil
}

// Lua numbers come back as integers (truncated) or strings (tostring).
func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif refill > 0 then
  wait = (1 - tokens) / refill * 1000
else
  wait = -1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens), tostring(wait)}
`)
