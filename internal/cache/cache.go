// Package cache stores fetched media bytes keyed by source URL so the
// inlining transform does not re-download the same image for every
// request that references it. Supports in-memory (single instance) and
// Redis (distributed) backends.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MediaCache is the interface for media byte caching backends.
type MediaCache interface {
	Get(ctx context.Context, url string) ([]byte, string, bool)
	Set(ctx context.Context, url string, data []byte, contentType string, ttl time.Duration) error
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	data        []byte
	contentType string
	expiresAt   time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{items: make(map[string]*cacheItem)}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, url string) ([]byte, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[url]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, "", false
	}
	return item.data, item.contentType, true
}

func (c *InMemoryCache) Set(ctx context.Context, url string, data []byte, contentType string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[url] = &cacheItem{
		data:        data,
		contentType: contentType,
		expiresAt:   time.Now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for url, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, url)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func mediaKey(url string) string {
	return "media:" + url
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, string, bool) {
	values, err := c.client.HGetAll(ctx, mediaKey(url)).Result()
	if err != nil || len(values) == 0 {
		return nil, "", false
	}
	return []byte(values["data"]), values["content_type"], true
}

func (c *RedisCache) Set(ctx context.Context, url string, data []byte, contentType string, ttl time.Duration) error {
	key := mediaKey(url)
	if err := c.client.HSet(ctx, key, "data", data, "content_type", contentType).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
