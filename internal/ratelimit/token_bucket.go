package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketNotConfigured = errors.New("token_bucket_not_configured")
	ErrBucketInvalidKey    = errors.New("token_bucket_invalid_key")
	ErrBucketInvalidRate   = errors.New("token_bucket_invalid_rate")
	ErrBucketBadReply      = errors.New("token_bucket_bad_reply")
)

// KEYS[1] bucket hash. ARGV: rate per second, capacity, ttl ms.
// Replies {allowed, tokens*1000, now ms} so fractional tokens survive the
// integer conversion of Lua numbers.
const takeTokenScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + (elapsed / 1000) * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000), now}
`

// TokenBucket refills at Rate tokens per second up to Burst. State lives in
// one Redis hash per key so every replica shares the budget.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script

	rate  float64
	burst int
	ttl   time.Duration
}

// Result reports one bucket check. Limit is the bucket capacity.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client redis.Scripter, rate float64, burst int) (*TokenBucket, error) {
	if client == nil {
		return nil, ErrBucketNotConfigured
	}
	if rate <= 0 || burst <= 0 {
		return nil, ErrBucketInvalidRate
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeTokenScript),
		rate:   rate,
		burst:  burst,
		ttl:    idleTTL(rate, burst),
	}, nil
}

// Take spends one token from the bucket stored at key.
func (b *TokenBucket) Take(ctx context.Context, key string) (Result, error) {
	if b == nil || b.client == nil {
		return Result{}, ErrBucketNotConfigured
	}
	if key == "" {
		return Result{}, ErrBucketInvalidKey
	}

	reply, err := b.script.Run(ctx, b.client, []string{key},
		strconv.FormatFloat(b.rate, 'f', -1, 64),
		b.burst,
		b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(reply) != 3 {
		return Result{}, ErrBucketBadReply
	}

	tokens := float64(reply[1]) / 1000
	res := Result{
		Allowed:   reply[0] == 1,
		Limit:     b.burst,
		Remaining: int(math.Floor(tokens)),
		ResetTime: time.UnixMilli(reply[2]),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration((1 - tokens) / b.rate * float64(time.Second))
		res.ResetTime = res.ResetTime.Add(res.RetryAfter)
	}
	return res, nil
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	return time.Duration(max(seconds, 1)) * time.Second
}
