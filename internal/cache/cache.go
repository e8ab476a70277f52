// Package cache is the optional read-through cache collaborator. A nil *Cache
// is valid and caches nothing, so callers never branch on whether caching is
// configured.
package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Config sizes the cache.
type Config struct {
	NumCounters int64 // keys tracked for admission, ~10x expected entries
	MaxCost     int64 // total cost budget, in bytes when costs are sizes
}

// DefaultConfig is sized for a few thousand resources.
func DefaultConfig() Config {
	return Config{NumCounters: 100_000, MaxCost: 64 << 20}
}

// Cache wraps a ristretto cache.
type Cache struct {
	rc *ristretto.Cache
}

// New creates a cache.
func New(cfg Config) (*Cache, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 {
		cfg = DefaultConfig()
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{rc: rc}, nil
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.rc.Get(key)
}

// Set stores value under key. Admission is best effort; a dropped Set only
// means a later miss.
func (c *Cache) Set(key string, value any, cost int64) {
	if c == nil {
		return
	}
	c.rc.Set(key, value, cost)
}

// Del removes key.
func (c *Cache) Del(key string) {
	if c == nil {
		return
	}
	c.rc.Del(key)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.rc.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.rc.Close()
}
