// Package inmemory provides a mutex-map cache with TTLs. It is the
// single-process fallback; clustered deployments should run the ristretto
// driver or a shared backend behind the same port.
package inmemory

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Cache implements cache.Cache using in-process data structures.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewCache creates an in-memory cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewCacheWithNow creates a cache with an injected time source for tests.
func NewCacheWithNow(now func() time.Time) *Cache {
	c := NewCache()
	c.now = now
	return c
}

// Get returns the cached value if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expires) {
		return nil, false, nil
	}

	return e.value, true, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	return nil
}

// InvalidatePrefix drops every key with the given prefix.
func (c *Cache) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (c *Cache) Close() error {
	return nil
}
