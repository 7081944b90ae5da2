package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/reading-diary/internal/domain"
)

// RedisSessionStore keeps each session as a JSON value whose TTL tracks ExpiresAt.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "diary"
	}
	return &RedisSessionStore{client: client, prefix: p + ":session"}
}

func (r *RedisSessionStore) Create(ctx context.Context, s *domain.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.TokenHash), raw, ttl).Err()
}

func (r *RedisSessionStore) FindByTokenHash(ctx context.Context, hash string, now time.Time) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, r.key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(now) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (r *RedisSessionStore) DeleteByTokenHash(ctx context.Context, hash string) error {
	return r.client.Del(ctx, r.key(hash)).Err()
}

// DeleteExpired is a no-op; redis evicts keys on TTL.
func (r *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisSessionStore) key(hash string) string {
	return r.prefix + ":" + hash
}
