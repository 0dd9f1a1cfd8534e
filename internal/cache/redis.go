package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the value under a single key with a server-side TTL and the
// generation under key + ":gen".
type Redis[T any] struct {
	client *redis.Client
	key    string
	genKey string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache.
func NewRedis[T any](client *redis.Client, key string, ttl time.Duration) *Redis[T] {
	return &Redis[T]{client: client, key: key, genKey: key + ":gen", ttl: ttl}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c *Redis[T]) Get(ctx context.Context) (T, bool, error) {
	var zero T
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to read cache key %s: %w", c.key, err)
	}

	var e entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		return zero, false, fmt.Errorf("failed to decode cache key %s: %w", c.key, err)
	}
	if e.expired(time.Now()) {
		return zero, false, nil
	}
	return e.Data, true, nil
}

func (c *Redis[T]) Version(ctx context.Context) (int64, error) {
	return readGeneration(ctx, c.client, c.genKey)
}

// Set writes the value only while the generation still equals version. The
// generation key is watched, so an Invalidate racing with Set aborts it.
func (c *Redis[T]) Set(ctx context.Context, version int64, value T) error {
	raw, err := json.Marshal(entry[T]{Data: value, ExpiresAt: time.Now().Add(c.ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, c.genKey)
		if err != nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, raw, c.ttl)
			return nil
		})
		return err
	}, c.genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", c.key, err)
	}
	return nil
}

func (c *Redis[T]) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cache key %s: %w", c.key, err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd getter, key string) (int64, error) {
	gen, err := cmd.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation %s: %w", key, err)
	}
	return gen, nil
}
