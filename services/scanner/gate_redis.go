package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultInFlightKey holds the cluster-wide in-flight count.
const DefaultInFlightKey = "codeshield:inflight"

// RedisCounter shares the admission count between replicas.
type RedisCounter struct {
	client redis.UniversalClient
	key    string
}

// NewRedisCounter parses url and verifies the server is reachable.
func NewRedisCounter(ctx context.Context, url string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCounterFromClient(client, DefaultInFlightKey), nil
}

// NewRedisCounterFromClient wraps an existing client. An empty key selects
// DefaultInFlightKey.
func NewRedisCounterFromClient(client redis.UniversalClient, key string) *RedisCounter {
	if key == "" {
		key = DefaultInFlightKey
	}
	return &RedisCounter{client: client, key: key}
}

// TryAcquire increments first and backs out when the result exceeds max,
// so two replicas can never both see room for the last slot.
func (c *RedisCounter) TryAcquire(ctx context.Context, max int) (bool, error) {
	n, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return false, fmt.Errorf("increment in-flight: %w", err)
	}
	if n > int64(max) {
		if err := c.client.Decr(ctx, c.key).Err(); err != nil {
			return false, fmt.Errorf("decrement in-flight: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func (c *RedisCounter) Release(ctx context.Context) error {
	if err := c.client.Decr(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("decrement in-flight: %w", err)
	}
	return nil
}

func (c *RedisCounter) Value(ctx context.Context) (int, error) {
	n, err := c.client.Get(ctx, c.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the underlying client.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
