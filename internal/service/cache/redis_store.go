package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared redis instance. All router
// instances share it; writes are last-writer-wins per key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (rs *RedisStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (rs *RedisStore) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (rs *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (rs *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	iter := rs.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	batch := make([]string, 0, 256)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := rs.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del batch: %w", err)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	return deleted, flush()
}

func (rs *RedisStore) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := rs.client.Scan(ctx, 0, keyPrefix+"*", 1024).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return count, nil
}

func (rs *RedisStore) MemoryBytes(ctx context.Context) (int64, error) {
	// Sample up to 100 keys and extrapolate; exact per-key accounting on a
	// shared instance is not worth the round trips.
	var sampled, sampleBytes, total int64
	iter := rs.client.Scan(ctx, 0, keyPrefix+"*", 1024).Iterator()
	for iter.Next(ctx) {
		total++
		if sampled < 100 {
			if n, err := rs.client.StrLen(ctx, iter.Val()).Result(); err == nil {
				sampleBytes += n
				sampled++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if sampled == 0 {
		return 0, nil
	}
	return sampleBytes / sampled * total, nil
}

// Close is a no-op: the redis client is shared and its lifecycle belongs to
// the caller that created it.
func (rs *RedisStore) Close() error {
	return nil
}
