package repository

import (
	"context"
	"time"

	"InferCore/internal/domain/models"
)

// EventQueue is the durable store behind the batch aggregator. Enqueue is
// safe for unbounded concurrent writers; the seal/drain path assumes a
// single consumer per queue.
type EventQueue interface {
	// Push appends an event to the open list of a queue; errors mean the
	// backing store rejected the write (the event was NOT stored).
	Push(ctx context.Context, queue models.QueueName, e *models.Event) error

	// LoadOpen returns all not-yet-sealed events of a queue in insertion
	// order, used for crash recovery on startup.
	LoadOpen(ctx context.Context, queue models.QueueName) ([]*models.Event, error)

	// SealBatch atomically persists a sealed batch and trims the first n
	// open events it was built from.
	SealBatch(ctx context.Context, queue models.QueueName, b *models.Batch, n int) error

	// PopSealed removes and returns the oldest sealed-but-undispatched
	// batch, or (nil, nil) when none exists.
	PopSealed(ctx context.Context, queue models.QueueName) (*models.Batch, error)

	Close() error
}

// TierClient is the abstract model-tier capability: given a prompt, a
// completion with a cost and latency. The router never depends on a vendor
// API shape.
type TierClient interface {
	Tier() models.TierID
	Complete(ctx context.Context, prompt *models.CompressedPrompt) (*models.Completion, error)
}

// FeatureStore holds the latest feature vector per subject, read
// opportunistically before compression.
type FeatureStore interface {
	Latest(subjectID string) (*models.FeatureVector, bool)
	Put(v *models.FeatureVector)
}

// ResultSink publishes routed results to downstream consumers
// (dashboard/monitoring collaborators).
type ResultSink interface {
	Publish(ctx context.Context, batchID string, res *models.RoutedResult) error
	Close() error
}

// ResultArchive persists dispatched batches and their results for
// historical/bulk analysis.
type ResultArchive interface {
	ArchiveBatch(ctx context.Context, b *models.Batch) error
	ArchiveResult(ctx context.Context, batchID string, res *models.RoutedResult) error
	Close() error
}

// Metrics is the observability port shared across the pipeline.
type Metrics interface {
	RecordEnqueued(queue string)
	RecordBatchSealed(queue string, size int)
	RecordRequest(tier string, cacheHit bool)
	RecordCost(tier string, usd float64)
	RecordLatency(op string, d time.Duration)
	RecordError(kind string)
	SetCacheStats(hitRate float64, entries int64, memoryBytes int64)
}
