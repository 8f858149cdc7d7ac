package tokenizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig tunes the token cache's size and freshness window. Setting
// RedisAddr layers a shared Redis tier underneath the in-process LRU so
// multiple convmem instances reuse each other's token counts instead of
// each warming its own cache from cold.
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type cacheEntry struct {
	count      int
	expiration time.Time
	lastAccess time.Time
}

// Cache is an LRU+TTL cache for token counts keyed by (method, text hash),
// generalized to key on method in addition to text since this package
// supports more than one counting method.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	maxSize  int
	ttl      time.Duration
	hits     int64
	misses   int64
	stopOnce sync.Once
	stop     chan struct{}

	remote *redis.Client
}

// NewCache constructs a Cache and starts its background eviction loop. When
// cfg.RedisAddr is set, the cache also write-throughs to Redis and consults
// it on a local miss before falling back to recomputation.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	c := &Cache{
		entries: make(map[string]cacheEntry),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		stop:    make(chan struct{}),
	}
	if cfg.RedisAddr != "" {
		c.remote = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	go c.cleanupLoop()
	return c
}

// Get returns a cached count, if present and unexpired, checking the local
// LRU first and the Redis tier (if configured) on a local miss.
func (c *Cache) Get(method, text string) (int, bool) {
	key := cacheKey(method, text)
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && time.Now().After(e.expiration) {
		delete(c.entries, key)
		ok = false
	}
	if ok {
		e.lastAccess = time.Now()
		c.entries[key] = e
		c.hits++
		c.mu.Unlock()
		return e.count, true
	}
	c.misses++
	c.mu.Unlock()

	if c.remote == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	val, err := c.remote.Get(ctx, key).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	c.setLocal(key, n)
	return n, true
}

// Set stores a count locally, evicting the least-recently-used entry first
// if the cache is at capacity, and write-throughs to Redis if configured.
func (c *Cache) Set(method, text string, count int) {
	key := cacheKey(method, text)
	c.setLocal(key, count)
	if c.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		c.remote.Set(ctx, key, count, c.ttl)
	}
}

func (c *Cache) setLocal(key string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.entries[key] = cacheEntry{count: count, expiration: now.Add(c.ttl), lastAccess: now}
}

// Stats returns (hits, misses).
func (c *Cache) Stats() (int64, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Close stops the background cleanup goroutine and the Redis client, if any.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.remote != nil {
		_ = c.remote.Close()
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.lastAccess
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, k)
		}
	}
}

func cacheKey(method, text string) string {
	h := sha256.Sum256([]byte(text))
	return method + ":" + hex.EncodeToString(h[:16])
}
