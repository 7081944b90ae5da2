package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/reading-diary/internal/database"
)

type DBChecker struct {
	db *gorm.DB
}

func NewDBChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return &DBChecker{db: db}
}

func (c *DBChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "db", Healthy: true}
	sqlDB, err := c.db.DB()
	if err != nil {
		return failed(res, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return failed(res, err)
	}
	return res
}

// SchemaChecker fails readiness until every diary table exists, which catches
// a deploy that skipped `migrate up`.
type SchemaChecker struct {
	db *gorm.DB
}

func NewSchemaChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return &SchemaChecker{db: db}
}

func (c *SchemaChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "schema", Healthy: true}
	pending, err := database.PendingTables(c.db.WithContext(ctx))
	if err != nil {
		return failed(res, err)
	}
	if len(pending) > 0 {
		return failed(res, fmt.Errorf("missing tables: %s", strings.Join(pending, ", ")))
	}
	return res
}

type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	if client == nil {
		return nil
	}
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "redis", Healthy: true}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return failed(res, err)
	}
	return res
}

// BucketProber is the slice of the avatar store a probe needs.
type BucketProber interface {
	Probe(ctx context.Context) error
}

// StorageChecker reports avatar storage reachability. It is optional because
// diary features keep working without avatars.
type StorageChecker struct {
	store BucketProber
}

func NewStorageChecker(store BucketProber) Checker {
	if store == nil {
		return nil
	}
	return &StorageChecker{store: store}
}

var ErrStorageUnavailable = errors.New("avatar storage unavailable")

func (c *StorageChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Name: "avatar_storage", Healthy: true, Optional: true}
	if err := c.store.Probe(ctx); err != nil {
		return failed(res, fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return res
}
