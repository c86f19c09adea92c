package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
)

// RedisEventQueue is the durable event queue on redis lists. Open events live
// in one list per queue; sealed batches in another. Sealing moves both in a
// single pipeline so a crash never loses events and never double-counts them.
type RedisEventQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisEventQueue creates the queue over an existing redis client.
func NewRedisEventQueue(rdb *redis.Client, prefix string) drepo.EventQueue {
	if prefix == "" {
		prefix = "infercore"
	}
	return &RedisEventQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisEventQueue) openKey(queue models.QueueName) string {
	return fmt.Sprintf("%s:queue:%s:events", q.prefix, queue)
}

func (q *RedisEventQueue) sealedKey(queue models.QueueName) string {
	return fmt.Sprintf("%s:queue:%s:sealed", q.prefix, queue)
}

func (q *RedisEventQueue) Push(ctx context.Context, queue models.QueueName, e *models.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("queue push: marshal event: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.openKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

func (q *RedisEventQueue) LoadOpen(ctx context.Context, queue models.QueueName) ([]*models.Event, error) {
	raws, err := q.rdb.LRange(ctx, q.openKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue load open: %w", err)
	}
	events := make([]*models.Event, 0, len(raws))
	for i, raw := range raws {
		var e models.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("queue load open: decode event %d: %w", i, err)
		}
		if err := e.DecodePayload(); err != nil {
			return nil, fmt.Errorf("queue load open: event %d: %w", i, err)
		}
		events = append(events, &e)
	}
	return events, nil
}

// SealBatch persists the sealed batch and trims the n open events it was
// built from in one round trip. The open list is trimmed from the head, which
// assumes a single sealer per queue.
func (q *RedisEventQueue) SealBatch(ctx context.Context, queue models.QueueName, b *models.Batch, n int) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("queue seal: marshal batch: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, q.sealedKey(queue), raw)
	pipe.LTrim(ctx, q.openKey(queue), int64(n), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue seal: %w", err)
	}
	return nil
}

func (q *RedisEventQueue) PopSealed(ctx context.Context, queue models.QueueName) (*models.Batch, error) {
	raw, err := q.rdb.LPop(ctx, q.sealedKey(queue)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue pop sealed: %w", err)
	}
	var b models.Batch
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("queue pop sealed: decode batch: %w", err)
	}
	for _, e := range b.Records {
		if err := e.DecodePayload(); err != nil {
			return nil, fmt.Errorf("queue pop sealed: batch %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func (q *RedisEventQueue) Close() error {
	return q.rdb.Close()
}
