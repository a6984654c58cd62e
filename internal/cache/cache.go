// Package cache is a version-prefixed TTL cache in front of aggregate reads.
// Backend failures degrade to misses and never reach the caller.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultVersion is the current cache schema version.
const DefaultVersion = "v2"

// Cache renders typed keys under the current version and delegates to a
// Backend.
type Cache struct {
	backend Backend
	mu      sync.RWMutex
	version string
	hits    atomic.Int64
	misses  atomic.Int64
	log     *zap.Logger
}

// New creates a Cache. An empty version means DefaultVersion.
func New(backend Backend, version string) *Cache {
	if version == "" {
		version = DefaultVersion
	}
	return &Cache{
		backend: backend,
		version: version,
		log:     zap.L().With(zap.String("component", "cache")),
	}
}

// Version returns the current key prefix.
func (c *Cache) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetVersion switches the key prefix. Entries written under the old
// version are never read again and age out by TTL.
func (c *Cache) SetVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("cache version changed", zap.String("from", c.version), zap.String("to", v))
	c.version = v
}

// Render returns the backend key for k under the current version.
func (c *Cache) Render(k Key) string {
	return k.render(c.Version())
}

// Get returns the cached value for k, or false on miss or backend error.
func (c *Cache) Get(ctx context.Context, k Key) ([]byte, bool) {
	key := c.Render(k)
	b, err := c.backend.Get(ctx, key)
	if err != nil {
		if !eris.Is(err, ErrMiss) {
			c.log.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return b, true
}

// Set stores value under k. Failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, k Key, value []byte, ttl time.Duration) {
	key := c.Render(k)
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops specific keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...Key) {
	rendered := make([]string, len(keys))
	for i, k := range keys {
		rendered[i] = c.Render(k)
	}
	if err := c.backend.Delete(ctx, rendered...); err != nil {
		c.log.Warn("cache invalidate failed", zap.Strings("keys", rendered), zap.Error(err))
	}
}

// InvalidateKinds drops every key of the given kinds under the current
// version.
func (c *Cache) InvalidateKinds(ctx context.Context, kinds ...Kind) {
	v := c.Version()
	for _, kind := range kinds {
		if _, err := c.backend.DeletePrefix(ctx, kindPrefix(v, kind)); err != nil {
			c.log.Warn("cache invalidate kind failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

// InvalidateAll drops every key under the current version.
func (c *Cache) InvalidateAll(ctx context.Context) int {
	n, err := c.backend.DeletePrefix(ctx, c.Version()+":")
	if err != nil {
		c.log.Warn("cache flush failed", zap.Error(err))
	}
	return n
}

// Counters reports hit and miss totals since creation.
func (c *Cache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// GetOrCompute returns the cached JSON value for key, or runs fn, caches
// its result for ttl and returns it. A value that fails to decode is
// treated as a miss.
func GetOrCompute[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if b, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		c.log.Warn("cache entry undecodable, recomputing", zap.String("key", c.Render(key)))
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}

	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache marshal failed", zap.String("key", c.Render(key)), zap.Error(err))
		return v, nil
	}
	c.Set(ctx, key, b, ttl)
	return v, nil
}
