package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/security"
)

// Each key is a hash {fails, last_ms, until_ms}. One call bumps every key it is
// given and returns the longest resulting cooldown, so the identity and ip
// dimensions move together and concurrent instances never lose an increment.
var redisAuthAbuseBumpScript = redis.NewScript(`
local now_ms, base_ms, factor, cap_ms, window_ms, free =
  tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]),
  tonumber(ARGV[4]), tonumber(ARGV[5]), tonumber(ARGV[6])
local longest = 0
for _, key in ipairs(KEYS) do
  local fails = tonumber(redis.call("HGET", key, "fails") or "0")
  local last_ms = tonumber(redis.call("HGET", key, "last_ms") or "0")
  if last_ms == 0 or now_ms - last_ms > window_ms then
    fails = 0
  end
  fails = fails + 1
  local delay = 0
  if fails > free then
    delay = math.min(cap_ms, math.floor(base_ms * factor ^ (fails - free - 1)))
  end
  redis.call("HSET", key, "fails", tostring(fails), "last_ms", tostring(now_ms), "until_ms", tostring(now_ms + delay))
  redis.call("PEXPIRE", key, window_ms + delay + 60000)
  if delay > longest then
    longest = delay
  end
end
return longest
`)

// RedisAuthAbuseGuard shares failure counters between API instances.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: normalizeAuthAbusePolicy(policy),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	keys := g.keys(scope, identity, ip)
	pipe := g.client.Pipeline()
	reads := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		reads[i] = pipe.HMGet(ctx, key, "last_ms", "until_ms")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "error")
		return 0, err
	}

	nowMS := g.now().UnixMilli()
	var wait time.Duration
	for _, read := range reads {
		d, err := g.remaining(read.Val(), nowMS)
		if err != nil {
			observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "error")
			return 0, err
		}
		wait = max(wait, d)
	}
	recordAbuseCheck(ctx, scope, wait)
	return wait, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	p := g.policy
	res, err := redisAuthAbuseBumpScript.Run(ctx, g.client, g.keys(scope, identity, ip),
		g.now().UnixMilli(),
		p.BaseDelay.Milliseconds(),
		p.Multiplier,
		p.MaxDelay.Milliseconds(),
		p.ResetWindow.Milliseconds(),
		p.FreeAttempts,
	).Int64()
	if err != nil {
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "register_failure", "error")
		return 0, fmt.Errorf("bump auth abuse counters: %w", err)
	}
	delay := time.Duration(max(res, 0)) * time.Millisecond
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "register_failure", "ok")
	if delay > 0 {
		observability.RecordAuthAbuseCooldown(ctx, string(scope), "register_failure", delay)
	}
	return delay, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	err := g.client.Del(ctx, g.keys(scope, identity, ip)...).Err()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "reset", outcome)
	return err
}

// remaining turns one HMGET reply into the cooldown still owed. A missing
// hash or a failure older than the reset window owes nothing.
func (g *RedisAuthAbuseGuard) remaining(vals []any, nowMS int64) (time.Duration, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, nil
	}
	lastMS, err := redisHashInt(vals[0])
	if err != nil {
		return 0, err
	}
	untilMS, err := redisHashInt(vals[1])
	if err != nil {
		return 0, err
	}
	if nowMS-lastMS > g.policy.ResetWindow.Milliseconds() || untilMS <= nowMS {
		return 0, nil
	}
	return time.Duration(untilMS-nowMS) * time.Millisecond, nil
}

// keys returns the identity key then the ip key. Identities are hashed so raw
// emails never appear in redis key space.
func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	return []string{
		authAbuseKey(g.prefix, scope, "id", security.HashToken(normalizeAuthIdentity(identity))),
		authAbuseKey(g.prefix, scope, "ip", security.HashToken(normalizeAuthIP(ip))),
	}
}

func redisHashInt(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected redis hash value type %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse redis hash value %q: %w", s, err)
	}
	return n, nil
}
