package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is an in-memory implementation of the Cacher interface.
// It uses go-cache for storage and singleflight to collapse concurrent
// fetches for the same missing key into a single call.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates a new in-memory cache instance with the specified
// default expiration and cleanup interval.
//
// Parameters:
//   - defaultExpiration: Default TTL for cached items (use cache.NoExpiration for no default)
//   - cleanupInterval: Interval at which expired items are removed from the cache
//
// Returns:
//   - A new MemoryCacher instance
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) Cacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
		group: singleflight.Group{},
	}
}

// GetOrFetch retrieves a value from the cache, or fetches it using the
// provided function if it's not cached. Concurrent requests for the same key
// share one fetch via singleflight.
func (c *MemoryCacher[T]) GetOrFetch(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFn FetchFunc[T],
) (T, error) {
	var zero T

	if cached, found := c.cache.Get(key); found {
		value, ok := cached.(T)
		if !ok {
			return zero, fmt.Errorf("cached value for key %q has unexpected type %T", key, cached)
		}

		return value, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another goroutine may have populated the cache while we waited
		// for the singleflight slot.
		if cached, found := c.cache.Get(key); found {
			return cached, nil
		}

		value, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return zero, fmt.Errorf("fetch for key %q failed: %w", key, err)
	}

	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("fetched value for key %q has unexpected type %T", key, result)
	}

	return value, nil
}

// Delete removes a key from the cache. Deleting a missing key is a no-op.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// ItemCount returns the number of items in the cache, including items that
// have expired but not yet been cleaned up.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	return c.cache.ItemCount(), nil
}
