package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a fetch may hold the populate lock before other
// waiters give up on it.
const lockTTL = 10 * time.Second

// releaseLockScript deletes the lock only if it is still owned by the caller.
const releaseLockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// redisCacher is a Redis-based implementation of the Cacher interface.
// A SetNX lock ensures that on a miss only one process performs the fetch;
// other processes poll for the populated value with backoff.
type redisCacher[T any] struct {
	client *redis.Client
}

// NewRedisCacher creates a new Redis-based cacher instance. It takes a Redis
// client and returns a Cacher implementation that uses Redis for storage and
// distributed locking, so a cache can be shared across processes.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cacher := NewRedisCacher[string](client)
func NewRedisCacher[T any](client *redis.Client) Cacher[T] {
	return &redisCacher[T]{
		client: client,
	}
}

// GetOrFetch retrieves a value from the cache, or fetches it using the
// provided function if it's not cached. On a miss it attempts to acquire a
// distributed lock; the lock holder fetches and populates the cache while
// other callers wait for the value to appear.
func (c *redisCacher[T]) GetOrFetch(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFn FetchFunc[T],
) (T, error) {
	var zero T

	if value, found, err := c.get(ctx, key); err != nil {
		return zero, err
	} else if found {
		return value, nil
	}

	lockKey := key + ":lock"
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())

	acquired, err := c.client.SetNX(ctx, lockKey, lockValue, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return c.waitForCache(ctx, key, lockKey)
	}

	defer func() {
		// Release with the ownership check so an expired lock reclaimed by
		// another process is not deleted from under it.
		c.client.Eval(context.Background(), releaseLockScript, []string{lockKey}, lockValue)
	}()

	result, err := fetchFn(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch for key %q failed: %w", key, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("failed to cache result: %w", err)
	}

	return result, nil
}

// get reads and unmarshals a cached value. The second return value reports
// whether the key was present.
func (c *redisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}

	if err != nil {
		return zero, false, fmt.Errorf("redis get error: %w", err)
	}

	var result T
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return result, true, nil
}

// waitForCache polls for a value another caller is fetching, with
// exponential backoff. It gives up when the lock disappears without a value
// being populated, when lockTTL elapses, or when ctx is cancelled.
func (c *redisCacher[T]) waitForCache(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := 10 * time.Millisecond
	maxBackoff := 500 * time.Millisecond
	deadline := time.Now().Add(lockTTL)

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return zero, errors.New("timeout waiting for cache")
		}

		if value, found, err := c.get(ctx, key); err != nil {
			return zero, err
		} else if found {
			return value, nil
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("failed to check lock existence: %w", err)
		}

		if exists == 0 {
			// Lock gone without a value: the holder's fetch failed.
			if value, found, err := c.get(ctx, key); err != nil {
				return zero, err
			} else if found {
				return value, nil
			}

			return zero, errors.New("fetch operation failed or cache not populated")
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Delete removes a key from the cache.
func (c *redisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// ItemCount returns the number of items in the cache.
func (c *redisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	count, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get cache size: %w", err)
	}
	return int(count), nil
}
