package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/storage"
)

// Cache is a fast lookup layer in front of the durable key store. It is an
// optimization only; correctness always comes from the store's atomic
// check-then-create.
type Cache interface {
	Get(ctx context.Context, key string) (*storage.IdempotencyRecord, bool)
	Set(ctx context.Context, key string, rec *storage.IdempotencyRecord, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	rec       storage.IdempotencyRecord
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

var _ Cache = (*MemoryCache)(nil)

// Get returns the cached record. An entry past its TTL is treated as absent
// and evicted on the spot.
func (c *MemoryCache) Get(_ context.Context, key string) (*storage.IdempotencyRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	rec := e.rec
	return &rec, true
}

func (c *MemoryCache) Set(_ context.Context, key string, rec *storage.IdempotencyRecord, ttl time.Duration) {
	if rec == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{rec: *rec, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// RedisCache shares key state across bot instances through Redis. Failures
// degrade to store-only lookups rather than erroring the cycle.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: "condorbot:idem:", logger: logger}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) (*storage.IdempotencyRecord, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis get failed, falling back to store")
		return nil, false
	}
	var rec storage.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn().Err(err).Msg("corrupt cache entry, evicting")
		c.client.Del(ctx, c.prefix+key)
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, key string, rec *storage.IdempotencyRecord, ttl time.Duration) {
	if rec == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis set failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis del failed")
	}
}
