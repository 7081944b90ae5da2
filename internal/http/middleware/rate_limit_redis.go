package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE run in one script so a window can never be left without
// a TTL if the process dies between the two.
var redisFixedWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

var errNoRedisClient = errors.New("rate limit: redis client is nil")

// RedisFixedWindowLimiter shares windows across replicas. Keys live under
// "<prefix>:<scope>:<client>".
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	if l.client == nil {
		return Decision{}, errNoRedisClient
	}
	policy = policy.normalized()
	if key == "" {
		key = "unknown"
	}
	window := max(policy.Window, time.Millisecond)

	reply, err := redisFixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) != 2 {
		return Decision{}, fmt.Errorf("rate limit: unexpected script reply %v", reply)
	}
	hits, ttl := reply[0], time.Duration(reply[1])*time.Millisecond
	if ttl <= 0 {
		ttl = window
	}

	limit := int64(policy.Limit)
	d := Decision{
		Allowed:   hits <= limit,
		Remaining: int(max(limit-hits, 0)),
		ResetAt:   l.now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}
