// Package ristretto provides a ristretto-backed cache driver. Ristretto
// handles admission, eviction, and TTLs; a side registry of live keys makes
// scope-prefix invalidation possible, which ristretto itself does not offer.
package ristretto

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache implements cache.Cache using dgraph-io/ristretto.
type Cache struct {
	inner *ristretto.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

// Config holds configuration for the ristretto cache.
type Config struct {
	// MaxCostBytes bounds total cached bytes. Defaults to 64 MiB.
	MaxCostBytes int64

	// NumCounters sizes the admission sketch. Defaults to 1e6.
	NumCounters int64
}

// NewCache creates a ristretto-backed cache.
func NewCache(c Config) (*Cache, error) {
	maxCost := c.MaxCostBytes
	if maxCost == 0 {
		maxCost = 64 << 20
	}
	numCounters := c.NumCounters
	if numCounters == 0 {
		numCounters = 1_000_000
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		inner: inner,
		keys:  make(map[string]struct{}),
	}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false, nil
	}
	blob, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return blob, true, nil
}

// Set stores a value with the given TTL. Ristretto admission is
// best-effort; a rejected set simply means a cache miss later.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.inner.SetWithTTL(key, value, int64(len(value)), ttl) {
		c.mu.Lock()
		c.keys[key] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

// InvalidatePrefix drops every registered key with the given prefix.
func (c *Cache) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.keys {
		if strings.HasPrefix(key, prefix) {
			c.inner.Del(key)
			delete(c.keys, key)
			removed++
		}
	}
	return removed, nil
}

// Close releases ristretto's internal goroutines.
func (c *Cache) Close() error {
	c.inner.Close()
	return nil
}
