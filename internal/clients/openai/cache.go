package openai

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

const cacheTTL = 5 * time.Minute

// cacheKey hashes the full prompt so identical requests hit the same entry.
func cacheKey(model, system, user string) string {
	sum := md5.Sum([]byte(model + "\x00" + system + "\x00" + user))
	return "gencache:" + hex.EncodeToString(sum[:])
}

// ResponseCache holds recent single-shot generation results. Get misses are
// never errors; a degraded cache just means more upstream calls.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// NewResponseCache prefers redis when REDIS_ADDR is set and reachable, and
// falls back to an in-process map otherwise.
func NewResponseCache(log *logger.Logger) ResponseCache {
	addr := envutil.Get("REDIS_ADDR", "")
	if addr == "" {
		return newMemoryCache()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Warn("Redis unreachable, using in-process response cache", "addr", addr, "error", err)
		return newMemoryCache()
	}
	return &redisCache{log: log.With("service", "ResponseCache"), rdb: rdb}
}

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Warn("Cache get failed", "error", err)
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string) {
	if err := c.rdb.Set(ctx, key, value, cacheTTL).Err(); err != nil {
		c.log.Warn("Cache set failed", "error", err)
	}
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *memoryCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{value: value, expires: now.Add(cacheTTL)}
}
