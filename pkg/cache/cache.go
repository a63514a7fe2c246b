// Package cache provides the query-result cache port. Values are opaque
// blobs; keys follow the scope-prefixed layout in pkg/scope so that a write
// in a scope can invalidate every cached read for that scope in one call.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque blobs with TTLs and supports prefix invalidation.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// InvalidatePrefix drops every key with the given prefix and returns
	// the number of entries removed.
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases any resources held by the cache.
	Close() error
}
