package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/observability"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeVerify AuthAbuseScope = "verify"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// AuthAbuseGuard tracks failed attempts per identity and per client ip and
// answers with the remaining cooldown. Zero means the attempt may proceed.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

// NewAuthAbuseGuard is off unless AUTH_ABUSE_PROTECTION_ENABLED; with a redis
// client available the counters are shared across instances.
func NewAuthAbuseGuard(cfg *config.Config, client redis.UniversalClient) AuthAbuseGuard {
	if !cfg.AuthAbuseProtectionEnabled {
		return NoopAuthAbuseGuard{}
	}
	policy := AuthAbusePolicy{
		FreeAttempts: cfg.AuthAbuseFreeAttempts,
		BaseDelay:    cfg.AuthAbuseBaseDelay,
		Multiplier:   cfg.AuthAbuseMultiplier,
		MaxDelay:     cfg.AuthAbuseMaxDelay,
		ResetWindow:  cfg.AuthAbuseResetWindow,
	}
	if client != nil {
		return NewRedisAuthAbuseGuard(client, cfg.RedisPrefix+":auth_abuse", policy)
	}
	return NewInMemoryAuthAbuseGuard(policy)
}

type NoopAuthAbuseGuard struct{}

func (NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error { return nil }

type authAbuseEntry struct {
	failCount     int
	lastFailureAt time.Time
	cooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu     sync.Mutex
	policy AuthAbusePolicy
	data   map[string]authAbuseEntry
	now    func() time.Time
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy: normalizeAuthAbusePolicy(policy),
		data:   make(map[string]authAbuseEntry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *InMemoryAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var wait time.Duration
	g.mu.Lock()
	for _, key := range g.keys(scope, identity, ip) {
		wait = max(wait, g.activeCooldownLocked(now, key))
	}
	g.mu.Unlock()
	recordAbuseCheck(ctx, scope, wait)
	return wait, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var delay time.Duration
	g.mu.Lock()
	for _, key := range g.keys(scope, identity, ip) {
		delay = max(delay, g.bumpLocked(now, key))
	}
	g.mu.Unlock()
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "register_failure", "ok")
	if delay > 0 {
		observability.RecordAuthAbuseCooldown(ctx, string(scope), "register_failure", delay)
	}
	return delay, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	for _, key := range g.keys(scope, identity, ip) {
		delete(g.data, key)
	}
	g.mu.Unlock()
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "reset", "ok")
	return nil
}

// keys returns the identity key then the ip key. Both dimensions must be
// clear for an attempt to proceed.
func (g *InMemoryAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) [2]string {
	return [2]string{
		authAbuseKey("", scope, "id", normalizeAuthIdentity(identity)),
		authAbuseKey("", scope, "ip", normalizeAuthIP(ip)),
	}
}

func (g *InMemoryAuthAbuseGuard) bumpLocked(now time.Time, key string) time.Duration {
	entry, seen := g.data[key]
	if !seen || now.Sub(entry.lastFailureAt) > g.policy.ResetWindow {
		entry = authAbuseEntry{}
	}
	entry.failCount++
	entry.lastFailureAt = now
	delay := cooldownFor(g.policy, entry.failCount)
	entry.cooldownUntil = now.Add(delay)
	g.data[key] = entry
	return delay
}

func (g *InMemoryAuthAbuseGuard) activeCooldownLocked(now time.Time, key string) time.Duration {
	entry, ok := g.data[key]
	if !ok {
		return 0
	}
	if now.Sub(entry.lastFailureAt) > g.policy.ResetWindow {
		delete(g.data, key)
		return 0
	}
	if !now.Before(entry.cooldownUntil) {
		return 0
	}
	return entry.cooldownUntil.Sub(now)
}

// cooldownFor is zero for the first FreeAttempts failures, then grows
// geometrically from BaseDelay up to MaxDelay.
func cooldownFor(policy AuthAbusePolicy, failCount int) time.Duration {
	over := failCount - policy.FreeAttempts
	if over <= 0 {
		return 0
	}
	delay := float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(over-1))
	if delay >= float64(policy.MaxDelay) || math.IsInf(delay, 0) {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

func recordAbuseCheck(ctx context.Context, scope AuthAbuseScope, wait time.Duration) {
	if wait > 0 {
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "throttled")
		observability.RecordAuthAbuseCooldown(ctx, string(scope), "check", wait)
		return
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "allowed")
}

func authAbuseKey(prefix string, scope AuthAbuseScope, dim, value string) string {
	if prefix == "" {
		return fmt.Sprintf("%s:%s:%s", scope, dim, value)
	}
	return fmt.Sprintf("%s:%s:%s:%s", prefix, scope, dim, value)
}

func normalizeAuthIdentity(identity string) string {
	v := strings.TrimSpace(strings.ToLower(identity))
	if v == "" {
		return "anonymous"
	}
	return v
}

func normalizeAuthIP(ip string) string {
	v := strings.TrimSpace(strings.ToLower(ip))
	if v == "" {
		return "unknown"
	}
	return v
}

func normalizeAuthAbusePolicy(policy AuthAbusePolicy) AuthAbusePolicy {
	if policy.FreeAttempts < 0 {
		policy.FreeAttempts = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = 30 * time.Minute
	}
	return policy
}
