package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultResultTTL bounds how long a query result is reused before refetching.
const DefaultResultTTL = 30 * time.Second

const (
	logEventCacheRead  = "dashboard_cache_read"
	logEventCacheWrite = "dashboard_cache_write"
)

// ResultCache stores serialized query results by input key for a short window.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the in-process ResultCache used by a single-instance deployment.
type MemoryCache struct {
	mutex   sync.Mutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache constructs a MemoryCache with the given entry lifetime.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached value when present and not yet expired.
func (cache *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	entry, present := cache.entries[key]
	if !present {
		return nil, false
	}
	if !cache.now().Before(entry.expiresAt) {
		delete(cache.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores the value under the key for the cache lifetime.
func (cache *MemoryCache) Set(_ context.Context, key string, value []byte) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.entries[key] = memoryCacheEntry{
		value:     value,
		expiresAt: cache.now().Add(cache.ttl),
	}
}

// RedisCache shares query results across instances through Redis. Cache errors
// degrade to misses; they never fail a query.
type RedisCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewRedisCache constructs a RedisCache over the given client.
func NewRedisCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{redisClient: redisClient, ttl: ttl, logger: logger}
}

// Get returns the cached value when present.
func (cache *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, getErr := cache.redisClient.Get(ctx, key).Bytes()
	if getErr != nil {
		if getErr != redis.Nil {
			cache.logger.Debug(logEventCacheRead, zap.Error(getErr), zap.String("key", key))
		}
		return nil, false
	}
	return value, true
}

// Set stores the value under the key with the cache lifetime.
func (cache *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if setErr := cache.redisClient.Set(ctx, key, value, cache.ttl).Err(); setErr != nil {
		cache.logger.Debug(logEventCacheWrite, zap.Error(setErr), zap.String("key", key))
	}
}
