package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"qtech-backend/internal/models"
)

var ErrCacheMiss = errors.New("settings: cache miss")

// Cache holds the current settings for a bounded time.
type Cache interface {
	Get(ctx context.Context) (models.SystemSettings, error)
	Set(ctx context.Context, s models.SystemSettings, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

const cacheKey = "system:settings"

type RedisCache struct {
	client *redis.Client
	key    string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	key := cacheKey
	if prefix != "" {
		key = prefix + ":" + cacheKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Get(ctx context.Context) (models.SystemSettings, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SystemSettings{}, ErrCacheMiss
		}
		return models.SystemSettings{}, fmt.Errorf("cache get error: %w", err)
	}

	var s models.SystemSettings
	if err := json.Unmarshal(val, &s); err != nil {
		return models.SystemSettings{}, fmt.Errorf("cache unmarshal error: %w", err)
	}
	return s, nil
}

func (c *RedisCache) Set(ctx context.Context, s models.SystemSettings, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// MemoryCache is the single-instance Cache.
type MemoryCache struct {
	mu      sync.Mutex
	val     *models.SystemSettings
	expires time.Time
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(context.Context) (models.SystemSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.val == nil || !c.now().Before(c.expires) {
		return models.SystemSettings{}, ErrCacheMiss
	}
	return *c.val, nil
}

func (c *MemoryCache) Set(_ context.Context, s models.SystemSettings, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = &s
	c.expires = c.now().Add(ttl)
	return nil
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = nil
	return nil
}
