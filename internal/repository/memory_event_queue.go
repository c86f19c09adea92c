package repository

import (
	"context"
	"sync"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
)

// MemoryEventQueue is the in-process queue used in tests and when redis is
// not configured. Same semantics as the redis queue minus durability.
type MemoryEventQueue struct {
	mu     sync.Mutex
	open   map[models.QueueName][]*models.Event
	sealed map[models.QueueName][]*models.Batch
}

func NewMemoryEventQueue() drepo.EventQueue {
	return &MemoryEventQueue{
		open:   make(map[models.QueueName][]*models.Event),
		sealed: make(map[models.QueueName][]*models.Batch),
	}
}

func (q *MemoryEventQueue) Push(_ context.Context, queue models.QueueName, e *models.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.open[queue] = append(q.open[queue], e)
	return nil
}

func (q *MemoryEventQueue) LoadOpen(_ context.Context, queue models.QueueName) ([]*models.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Event, len(q.open[queue]))
	copy(out, q.open[queue])
	return out, nil
}

func (q *MemoryEventQueue) SealBatch(_ context.Context, queue models.QueueName, b *models.Batch, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	open := q.open[queue]
	if n > len(open) {
		n = len(open)
	}
	q.open[queue] = open[n:]
	q.sealed[queue] = append(q.sealed[queue], b)
	return nil
}

func (q *MemoryEventQueue) PopSealed(_ context.Context, queue models.QueueName) (*models.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sealed := q.sealed[queue]
	if len(sealed) == 0 {
		return nil, nil
	}
	b := sealed[0]
	q.sealed[queue] = sealed[1:]
	return b, nil
}

func (q *MemoryEventQueue) Close() error { return nil }
