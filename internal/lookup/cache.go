package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"movieclub/internal/movie"
)

// Cache stores resolved movies by key. A miss returns ok=false and no error.
type Cache interface {
	Get(ctx context.Context, key string) (movie.Metadata, bool, error)
	Set(ctx context.Context, key string, m movie.Metadata) error
	Close() error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (movie.Metadata, bool, error) {
	return movie.Metadata{}, false, nil
}
func (nopCache) Set(context.Context, string, movie.Metadata) error { return nil }
func (nopCache) Close() error                                      { return nil }

const defaultMemoryEntries = 512

type memEntry struct {
	m       movie.Metadata
	expires time.Time
}

// MemoryCache is a bounded in-process cache. When full, the entry closest
// to expiry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]memEntry
}

func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &MemoryCache{ttl: ttl, max: maxEntries, now: time.Now, entries: map[string]memEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (movie.Metadata, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return movie.Metadata{}, false, nil
	}
	if c.ttl > 0 && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return movie.Metadata{}, false, nil
	}
	return e.m, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, m movie.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = memEntry{m: m, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) evictLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, e := range c.entries {
		if oldest == "" || e.expires.Before(at) {
			oldest, at = k, e.expires
		}
	}
	delete(c.entries, oldest)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }

// RedisCache keeps movies as JSON strings with a TTL.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, o RedisOptions) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lookup: redis ping %s: %w", o.Addr, err)
	}
	return NewRedisCacheClient(rdb, o.TTL), nil
}

// NewRedisCacheClient wraps an existing client.
func NewRedisCacheClient(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "movieclub:lookup:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (movie.Metadata, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return movie.Metadata{}, false, nil
	}
	if err != nil {
		return movie.Metadata{}, false, err
	}
	var m movie.Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		// corrupt entry; treat as a miss and let Set overwrite it
		return movie.Metadata{}, false, nil
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, m movie.Metadata) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, b, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
