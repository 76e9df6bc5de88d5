package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a fetch may hold the distributed lock; lockPoll is
// how often waiters re-check the cache while another node fetches.
const (
	lockTTL  = 30 * time.Second
	lockPoll = 100 * time.Millisecond
)

// releaseLockScript deletes the lock only if the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// redisCacher is a Redis-based implementation of the Cacher interface.
// It uses a distributed lock to prevent cache stampede when multiple nodes
// try to fetch the same missing cache entry simultaneously. Values are
// stored as JSON.
type redisCacher[T any] struct {
	client *redis.Client
	// prefix namespaces this cacher's keys within the shared database.
	prefix string
}

// NewRedisCacher creates a new Redis-based cacher instance. All keys are
// stored under the given prefix so multiple cachers can share one database.
//
// Parameters:
//   - client: The Redis client to use for storage and locking
//   - prefix: Key namespace, e.g. "voicenet:perm"
//
// Returns:
//   - A Cacher implementation backed by Redis
func NewRedisCacher[T any](client *redis.Client, prefix string) Cacher[T] {
	return &redisCacher[T]{
		client: client,
		prefix: prefix,
	}
}

func (c *redisCacher[T]) key(key string) string {
	return c.prefix + ":" + key
}

// GetOrFetch retrieves a value from the cache, or fetches it using the
// provided function if it's not cached. On a miss it attempts to acquire a
// distributed lock; the lock holder fetches, stores, and releases, while
// other callers poll the cache until the value appears or the lock TTL
// elapses, falling back to a direct fetch without caching.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - key: The cache key to retrieve or set
//   - ttl: Time-to-live duration for the cached value
//   - fetchFn: Function to fetch the value if not in cache
//
// Returns:
//   - The cached or fetched value of type T
//   - An error if retrieval or fetching fails
func (c *redisCacher[T]) GetOrFetch(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFn FetchFunc[T],
) (T, error) {
	var zero T
	fullKey := c.key(key)

	if val, err := c.get(ctx, fullKey); err == nil {
		return val, nil
	} else if !errors.Is(err, redis.Nil) {
		return zero, err
	}

	lockKey := fullKey + ":lock"
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())

	acquired, err := c.client.SetNX(ctx, lockKey, lockValue, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("redis lock error: %w", err)
	}

	if acquired {
		defer func() {
			_ = releaseLockScript.Run(ctx, c.client, []string{lockKey}, lockValue).Err()
		}()

		fetchedVal, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		data, err := json.Marshal(fetchedVal)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal value for cache: %w", err)
		}
		if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
			return zero, fmt.Errorf("redis set error: %w", err)
		}

		return fetchedVal, nil
	}

	// Another caller holds the lock; wait for it to populate the cache.
	deadline := time.Now().Add(lockTTL)
	ticker := time.NewTicker(lockPoll)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}

		if val, err := c.get(ctx, fullKey); err == nil {
			return val, nil
		} else if !errors.Is(err, redis.Nil) {
			return zero, err
		}
	}

	// The lock holder never populated the cache; fetch directly.
	return fetchFn(ctx)
}

// get reads and unmarshals one value; returns redis.Nil on a miss.
func (c *redisCacher[T]) get(ctx context.Context, fullKey string) (T, error) {
	var zero T

	val, err := c.client.Get(ctx, fullKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, redis.Nil
		}
		return zero, fmt.Errorf("redis get error: %w", err)
	}

	var result T
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return result, nil
}

// Delete removes a key from the cache.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - key: The cache key to delete
func (c *redisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Clear removes all items stored under this cacher's prefix using SCAN, so
// unrelated keys in a shared database are untouched.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
func (c *redisCacher[T]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete error: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	return nil
}

// ItemCount returns the number of items stored under this cacher's prefix.
// It SCANs the keyspace; use sparingly on large databases.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//
// Returns:
//   - The number of cached items
func (c *redisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan error: %w", err)
	}
	return count, nil
}
