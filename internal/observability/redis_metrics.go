package observability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var redisInstrumentationOnce sync.Once

// InstrumentRedisClient adds command metrics to the shared client used by the
// session store, the diary page cache, the abuse guard and the rate limiters.
// Only the first call installs the hook.
func InstrumentRedisClient(client redis.UniversalClient, logger *slog.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	redisInstrumentationOnce.Do(func() {
		hook, err := newRedisMetricsHook(client.PoolStats)
		if err != nil {
			logger.Warn("redis instrumentation disabled", "error", err)
			return
		}
		client.AddHook(hook)
		logger.Info("redis instrumentation enabled", "families", strings.Join(redisKeyFamilies, ","))
	})
}

// redisMetricsHook records every command against the key family that issued
// it. Keyspace hits and misses are what the diary page cache is judged by.
type redisMetricsHook struct {
	commands metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	lookups  metric.Int64Counter
}

func newRedisMetricsHook(poolStats func() *redis.PoolStats) (*redisMetricsHook, error) {
	meter := otel.Meter(meterName)
	h := &redisMetricsHook{}
	var err error
	if h.commands, err = meter.Int64Counter("diary.redis.commands",
		metric.WithDescription("Redis commands by command, key family and outcome")); err != nil {
		return nil, err
	}
	if h.failures, err = meter.Int64Counter("diary.redis.failures",
		metric.WithDescription("Redis command failures by error class")); err != nil {
		return nil, err
	}
	if h.duration, err = meter.Float64Histogram("diary.redis.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Redis round trip latency")); err != nil {
		return nil, err
	}
	if h.lookups, err = meter.Int64Counter("diary.redis.lookups",
		metric.WithDescription("Key lookups by key family and result (hit or miss)")); err != nil {
		return nil, err
	}

	conns, err := meter.Int64ObservableGauge("diary.redis.pool.connections",
		metric.WithDescription("Pooled redis connections by state"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := poolStats()
		if stats == nil {
			return nil
		}
		idle := int64(stats.IdleConns)
		o.ObserveInt64(conns, idle, metric.WithAttributes(attribute.String("state", "idle")))
		o.ObserveInt64(conns, int64(stats.TotalConns)-idle, metric.WithAttributes(attribute.String("state", "in_use")))
		return nil
	}, conns)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("family", redisKeyFamily(cmd)),
			attribute.String("status", redisCommandStatus(err)),
		))
		h.record(ctx, cmd, err)
		return err
	}
}

// ProcessPipelineHook times the whole round trip once and attributes each
// queued command to its own family.
func (h *redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("family", "pipeline"),
			attribute.String("status", redisCommandStatus(err)),
		))
		for _, cmd := range cmds {
			h.record(ctx, cmd, cmd.Err())
		}
		return err
	}
}

func (h *redisMetricsHook) record(ctx context.Context, cmd redis.Cmder, err error) {
	family := attribute.String("family", redisKeyFamily(cmd))
	h.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", strings.ToLower(cmd.Name())),
		family,
		attribute.String("status", redisCommandStatus(err)),
	))
	if err != nil && !errors.Is(err, redis.Nil) {
		h.failures.Add(ctx, 1, metric.WithAttributes(family, attribute.String("error_type", classifyRedisError(err))))
	}
	hits, misses, ok := classifyKeyspaceOutcome(cmd, err)
	if !ok {
		return
	}
	if hits > 0 {
		h.lookups.Add(ctx, hits, metric.WithAttributes(family, attribute.String("result", "hit")))
	}
	if misses > 0 {
		h.lookups.Add(ctx, misses, metric.WithAttributes(family, attribute.String("result", "miss")))
	}
}

// Key families are the second segment of every key this service writes
// (<prefix>:<family>:...), which keeps metric cardinality bounded.
var redisKeyFamilies = []string{"session", "auth_abuse", "diary_cache", "rate_limit"}

func redisKeyFamily(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "none"
	}
	key, ok := args[1].(string)
	if !ok {
		return "other"
	}
	for _, part := range strings.Split(key, ":") {
		for _, family := range redisKeyFamilies {
			if part == family {
				return family
			}
		}
	}
	return "other"
}

func redisCommandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "miss"
	default:
		return "error"
	}
}

func classifyRedisError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		return "timeout"
	case errors.Is(err, redis.ErrClosed), strings.Contains(msg, "connection"), strings.Contains(msg, "connect:"):
		return "connection"
	default:
		return "other"
	}
}

// classifyKeyspaceOutcome counts hits and misses for the read commands the
// stores issue. Failed commands are not lookups. err must be the command's
// outcome as seen by the hook: inside ProcessHook go-redis has not yet stored
// it on cmd, so cmd.Err() would report a miss as a hit.
func classifyKeyspaceOutcome(cmd redis.Cmder, err error) (hits, misses int64, ok bool) {
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, false
	}
	switch c := cmd.(type) {
	case *redis.StringCmd:
		if errors.Is(err, redis.Nil) {
			return 0, 1, true
		}
		return 1, 0, true
	case *redis.IntCmd:
		if strings.ToLower(cmd.Name()) != "exists" {
			return 0, 0, false
		}
		if c.Val() > 0 {
			return 1, 0, true
		}
		return 0, 1, true
	case *redis.SliceCmd:
		for _, v := range c.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	case *redis.MapStringStringCmd:
		if len(c.Val()) == 0 {
			return 0, 1, true
		}
		return 1, 0, true
	default:
		return 0, 0, false
	}
}
