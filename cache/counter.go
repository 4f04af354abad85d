package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCounterUnavailable indicates the counter backend could not be reached.
	ErrCounterUnavailable = errors.New("counter backend unavailable")
)

// Counter is a decaying per-key counter. Increment must be atomic with respect
// to concurrent callers on the same key and must reset the key's TTL.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Evict(ctx context.Context, key string) error
}

// MemoryCounter is an in-process Counter backed by a Store.
type MemoryCounter struct {
	store *Store[int64]
}

// NewMemoryCounter creates a MemoryCounter whose entries expire ttl after their
// last increment.
func NewMemoryCounter(ttl time.Duration, opts ...Option) *MemoryCounter {
	return &MemoryCounter{store: New[int64](ttl, opts...)}
}

func (c *MemoryCounter) Increment(_ context.Context, key string) (int64, error) {
	return c.store.Update(key, func(n int64, _ bool) int64 { return n + 1 }), nil
}

func (c *MemoryCounter) Count(_ context.Context, key string) (int64, error) {
	n, _ := c.store.Get(key)
	return n, nil
}

func (c *MemoryCounter) Evict(_ context.Context, key string) error {
	c.store.Evict(key)
	return nil
}

// Store exposes the underlying store for stats and shutdown.
func (c *MemoryCounter) Store() *Store[int64] {
	return c.store
}

// RedisCounter is a Counter shared by every process pointing at the same Redis.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCounter creates a RedisCounter. Keys are namespaced as prefix:key.
func NewRedisCounter(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCounter {
	if prefix == "" {
		prefix = "ala"
	}
	return &RedisCounter{redis: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCounter) key(key string) string {
	return c.prefix + ":" + key
}

// Increment runs INCR and EXPIRE in one MULTI so the window slides on every
// attempt and no key is left without a TTL.
func (c *RedisCounter) Increment(ctx context.Context, key string) (int64, error) {
	k := c.key(key)

	var incr *redis.IntCmd
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Count(ctx context.Context, key string) (int64, error) {
	n, err := c.redis.Get(ctx, c.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return n, nil
}

func (c *RedisCounter) Evict(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}
