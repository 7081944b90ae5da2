package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

type DiaryPage = repository.PageResult[domain.DiaryEntry]

// DiaryPageCache holds rendered diary list pages per user. Appending an entry
// drops every cached page for that user.
type DiaryPageCache interface {
	Get(ctx context.Context, userID uint, req repository.PageRequest) (DiaryPage, bool, error)
	Set(ctx context.Context, userID uint, req repository.PageRequest, page DiaryPage) error
	Invalidate(ctx context.Context, userID uint) error
}

func NewDiaryPageCache(cfg *config.Config, client redis.UniversalClient) DiaryPageCache {
	if !cfg.DiaryCacheEnabled || cfg.DiaryCacheTTL <= 0 {
		return NoopDiaryPageCache{}
	}
	if client != nil {
		return NewRedisDiaryPageCache(client, cfg.RedisPrefix+":diary_cache", cfg.DiaryCacheTTL)
	}
	return NewInMemoryDiaryPageCache(cfg.DiaryCacheTTL)
}

type NoopDiaryPageCache struct{}

func (NoopDiaryPageCache) Get(context.Context, uint, repository.PageRequest) (DiaryPage, bool, error) {
	return DiaryPage{}, false, nil
}

func (NoopDiaryPageCache) Set(context.Context, uint, repository.PageRequest, DiaryPage) error {
	return nil
}

func (NoopDiaryPageCache) Invalidate(context.Context, uint) error { return nil }

type cachedPage struct {
	payload   []byte
	expiresAt time.Time
}

type InMemoryDiaryPageCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	users map[uint]map[string]cachedPage
	now   func() time.Time
}

func NewInMemoryDiaryPageCache(ttl time.Duration) *InMemoryDiaryPageCache {
	return &InMemoryDiaryPageCache{
		ttl:   ttl,
		users: make(map[uint]map[string]cachedPage),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (c *InMemoryDiaryPageCache) Get(_ context.Context, userID uint, req repository.PageRequest) (DiaryPage, bool, error) {
	key := pageCacheKey(req)
	now := c.now()
	c.mu.RLock()
	entry, ok := c.users[userID][key]
	c.mu.RUnlock()
	if !ok {
		return DiaryPage{}, false, nil
	}
	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		if pages, ok := c.users[userID]; ok {
			delete(pages, key)
			if len(pages) == 0 {
				delete(c.users, userID)
			}
		}
		c.mu.Unlock()
		return DiaryPage{}, false, nil
	}
	var page DiaryPage
	if err := json.Unmarshal(entry.payload, &page); err != nil {
		return DiaryPage{}, false, err
	}
	return page, true, nil
}

func (c *InMemoryDiaryPageCache) Set(_ context.Context, userID uint, req repository.PageRequest, page DiaryPage) error {
	payload, err := json.Marshal(page)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pages, ok := c.users[userID]
	if !ok {
		pages = make(map[string]cachedPage)
		c.users[userID] = pages
	}
	pages[pageCacheKey(req)] = cachedPage{payload: payload, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *InMemoryDiaryPageCache) Invalidate(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
	return nil
}

// RedisDiaryPageCache keeps one key per page plus a per-user index set so a
// single append can drop all of that user's pages.
type RedisDiaryPageCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDiaryPageCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDiaryPageCache {
	if prefix == "" {
		prefix = "diary_cache"
	}
	return &RedisDiaryPageCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisDiaryPageCache) Get(ctx context.Context, userID uint, req repository.PageRequest) (DiaryPage, bool, error) {
	raw, err := c.client.Get(ctx, c.pageKey(userID, req)).Bytes()
	if err == redis.Nil {
		return DiaryPage{}, false, nil
	}
	if err != nil {
		return DiaryPage{}, false, err
	}
	var page DiaryPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return DiaryPage{}, false, err
	}
	return page, true, nil
}

func (c *RedisDiaryPageCache) Set(ctx context.Context, userID uint, req repository.PageRequest, page DiaryPage) error {
	payload, err := json.Marshal(page)
	if err != nil {
		return err
	}
	key := c.pageKey(userID, req)
	index := c.indexKey(userID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, c.ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, c.ttl+time.Minute)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisDiaryPageCache) Invalidate(ctx context.Context, userID uint) error {
	index := c.indexKey(userID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, index)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisDiaryPageCache) pageKey(userID uint, req repository.PageRequest) string {
	return fmt.Sprintf("%s:page:%d:%s", c.prefix, userID, pageCacheKey(req))
}

func (c *RedisDiaryPageCache) indexKey(userID uint) string {
	return fmt.Sprintf("%s:index:%d", c.prefix, userID)
}

func pageCacheKey(req repository.PageRequest) string {
	return fmt.Sprintf("%d:%d", req.Page, req.PageSize)
}
