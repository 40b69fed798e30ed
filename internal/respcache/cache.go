// Package respcache implements the short-TTL idempotent-request cache of
// spec.md section 4.2, keyed by a string the caller builds (the provider
// clients use "name:op:params"). It is backed by Redis
// (github.com/redis/go-redis/v9) when REDIS_ADDR is configured — mirroring
// the cache/rate-limit/circuit-breaker triad the pack's sawpanic-cryptorun
// exchange provider config declares — and falls back to an in-process LRU
// so the engine runs (and its tests run) without an external Redis.
package respcache

import (
	"container/list"
	"context"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the uniform interface both backends satisfy.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// New builds a Cache backed by Redis if REDIS_ADDR is set, otherwise an
// in-process LRU with the given capacity.
func New(capacity int) Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return newRedisCache(addr)
	}
	return newLRUCache(capacity)
}

// --- Redis backend ---

type redisCache struct {
	client *redis.Client
}

func newRedisCache(addr string) *redisCache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.client.Set(ctx, key, value, ttl)
}

// --- In-process LRU backend ---

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *lruCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		el.Value.(*lruEntry).expiresAt = time.Now().Add(ttl)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}
