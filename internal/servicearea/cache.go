package servicearea

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// MemoryCache is the in-process postal-code cache.
type MemoryCache struct {
	mu      sync.Mutex
	codes   []string
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{ttl: CacheTTL, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil || c.now().After(c.expires) {
		return nil, false
	}
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out, true
}

func (c *MemoryCache) Set(ctx context.Context, codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = make([]string, len(codes))
	copy(c.codes, codes)
	c.expires = c.now().Add(c.ttl)
}

// RedisCache shares the postal-code set across processes.
type RedisCache struct {
	rdb *redis.Client
	key string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, key: "shipflo:postal_codes"}
}

func (c *RedisCache) Get(ctx context.Context) ([]string, bool) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, false
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, false
	}
	return codes, true
}

func (c *RedisCache) Set(ctx context.Context, codes []string) {
	raw, err := json.Marshal(codes)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.key, raw, CacheTTL).Err()
}
