// Package dedup prevents two dispatch attempts racing on the same order.
// The guard is a time-boxed tri-state flag: absent, set (posted, in flight
// or done), or explicitly cleared for retry. Acquire is atomic; a naive
// check-then-set would let near-simultaneous triggers both through.
package dedup

import (
	"context"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL time-boxes the flag; after this the order may be posted again.
const DefaultTTL = 30 * 24 * time.Hour

type Guard interface {
	// Acquire atomically takes the flag for an order. False means another
	// attempt already holds it within the TTL window.
	Acquire(ctx context.Context, orderID int64) (bool, error)
	// Release marks the order explicitly cleared for retry.
	Release(ctx context.Context, orderID int64) error
}

type memEntry struct {
	held    bool
	expires time.Time
}

// MemoryGuard is the single-process guard.
type MemoryGuard struct {
	mu  sync.Mutex
	m   map[int64]memEntry
	ttl time.Duration
	now func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{m: map[int64]memEntry{}, ttl: ttl, now: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, orderID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.m[orderID]
	if ok && e.held && g.now().Before(e.expires) {
		return false, nil
	}
	g.m[orderID] = memEntry{held: true, expires: g.now().Add(g.ttl)}
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.m[orderID] = memEntry{held: false, expires: g.now().Add(g.ttl)}
	return nil
}

// acquireScript takes the flag only when it is absent or explicitly cleared.
// Running server-side keeps the check-then-set atomic across processes.
var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == '1' then
  return 0
end
redis.call('SET', KEYS[1], '1', 'EX', ARGV[1])
return 1
`)

// RedisGuard shares the flag across processes.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) key(orderID int64) string {
	return "shipflo:order_posted:" + strconv.FormatInt(orderID, 10)
}

func (g *RedisGuard) Acquire(ctx context.Context, orderID int64) (bool, error) {
	n, err := acquireScript.Run(ctx, g.rdb, []string{g.key(orderID)}, int(g.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (g *RedisGuard) Release(ctx context.Context, orderID int64) error {
	return g.rdb.Set(ctx, g.key(orderID), "0", g.ttl).Err()
}
