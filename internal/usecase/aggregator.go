package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"InferCore/internal/domain/models"
	"InferCore/internal/domain/repository"
	"InferCore/pkg/logger"
)

// EnqueueError means the event was not accepted; the caller must surface it,
// the event was not stored anywhere.
type EnqueueError struct {
	Queue models.QueueName
	Err   error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue to %s queue: %v", e.Queue, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }

// AggregatorOptions tune batching behavior.
type AggregatorOptions struct {
	MaxBatchSize int
	FastTimeout  time.Duration
	SlowTimeout  time.Duration
	FastWindow   time.Duration // events younger than this route fast
	PollInterval time.Duration
}

func (o *AggregatorOptions) normalize() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 100
	}
	if o.FastTimeout <= 0 {
		o.FastTimeout = 30 * time.Second
	}
	if o.SlowTimeout <= 0 {
		o.SlowTimeout = 5 * time.Minute
	}
	if o.FastWindow <= 0 {
		o.FastWindow = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
}

// BatchAggregator accumulates events into per-queue batches and seals them on
// size or age. Events are written through to the durable queue before they
// join an in-memory batch, so a crash loses nothing; Recover rebuilds the
// open batches from the store on startup.
type BatchAggregator struct {
	store   repository.EventQueue
	metrics repository.Metrics
	log     *logger.Logger
	opts    AggregatorOptions

	mu     sync.Mutex
	open   map[models.QueueName]*models.Batch
	parked map[models.QueueName][]*models.Batch // sealed but not yet persisted

	now func() time.Time
}

func NewBatchAggregator(store repository.EventQueue, metrics repository.Metrics, log *logger.Logger, opts AggregatorOptions) *BatchAggregator {
	opts.normalize()
	return &BatchAggregator{
		store:   store,
		metrics: metrics,
		log:     log,
		opts:    opts,
		open:    make(map[models.QueueName]*models.Batch),
		parked:  make(map[models.QueueName][]*models.Batch),
		now:     time.Now,
	}
}

// Classify picks the queue for an event by age: recent activity routes fast,
// everything else slow.
func (a *BatchAggregator) Classify(e *models.Event) models.QueueName {
	if a.now().Sub(e.Timestamp) < a.opts.FastWindow {
		return models.QueueFast
	}
	return models.QueueSlow
}

// Enqueue durably stores the event and folds it into the open batch of its
// queue, sealing when the batch reaches capacity.
func (a *BatchAggregator) Enqueue(ctx context.Context, e *models.Event) (models.QueueName, error) {
	queue := a.Classify(e)

	if err := a.store.Push(ctx, queue, e); err != nil {
		return queue, &EnqueueError{Queue: queue, Err: err}
	}
	a.metrics.RecordEnqueued(string(queue))

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.open[queue]
	if b == nil {
		b = models.NewBatch(queue, e.Timestamp)
		a.open[queue] = b
	}
	if !b.Append(e) {
		b = models.NewBatch(queue, e.Timestamp)
		b.Append(e)
		a.open[queue] = b
	}

	if len(b.Records) >= a.opts.MaxBatchSize {
		if err := a.sealLocked(ctx, queue, "size"); err != nil {
			// The event is stored; only persisting the seal failed. The
			// batch is parked and the timer loop retries on its next tick.
			a.log.Error("size-triggered seal failed", logger.String("queue", string(queue)), logger.Error(err))
		}
	}
	return queue, nil
}

// sealLocked seals the open batch of a queue and persists it. Parked batches
// go first: their records sit ahead of the open batch on the durable open
// list, and SealBatch trims that list by record count. Caller holds a.mu.
func (a *BatchAggregator) sealLocked(ctx context.Context, queue models.QueueName, reason string) error {
	retryErr := a.sealParkedLocked(ctx, queue)
	b := a.open[queue]
	if b == nil || len(b.Records) == 0 {
		return retryErr
	}
	b.Seal(a.now())
	if retryErr != nil {
		// Store unreachable; park behind the earlier batches so durable
		// order holds and the retry loop picks everything up together.
		a.parked[queue] = append(a.parked[queue], b)
		a.open[queue] = nil
		return retryErr
	}
	if err := a.store.SealBatch(ctx, queue, b, len(b.Records)); err != nil {
		// Park the sealed batch and start a fresh one so later events never
		// grow it past capacity; the durable open list still holds its
		// records until the retry succeeds.
		a.parked[queue] = append(a.parked[queue], b)
		a.open[queue] = nil
		return fmt.Errorf("seal batch %s: %w", b.ID, err)
	}
	a.open[queue] = nil
	a.metrics.RecordBatchSealed(string(queue), len(b.Records))
	a.log.Info("batch sealed",
		logger.String("batch_id", b.ID),
		logger.String("queue", string(queue)),
		logger.String("reason", reason),
		logger.Int("size", len(b.Records)))
	return nil
}

// sealParkedLocked retries persisting batches whose first seal attempt
// failed, oldest first. Caller holds a.mu.
func (a *BatchAggregator) sealParkedLocked(ctx context.Context, queue models.QueueName) error {
	for len(a.parked[queue]) > 0 {
		b := a.parked[queue][0]
		if err := a.store.SealBatch(ctx, queue, b, len(b.Records)); err != nil {
			return fmt.Errorf("seal parked batch %s: %w", b.ID, err)
		}
		a.parked[queue] = a.parked[queue][1:]
		a.metrics.RecordBatchSealed(string(queue), len(b.Records))
		a.log.Info("batch sealed",
			logger.String("batch_id", b.ID),
			logger.String("queue", string(queue)),
			logger.String("reason", "retry"),
			logger.Int("size", len(b.Records)))
	}
	return nil
}

// Recover rebuilds open batches from the durable store. Called once before
// Run; events that were stored but never sealed pick up where they left off.
func (a *BatchAggregator) Recover(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, queue := range []models.QueueName{models.QueueFast, models.QueueSlow} {
		events, err := a.store.LoadOpen(ctx, queue)
		if err != nil {
			return fmt.Errorf("recover %s queue: %w", queue, err)
		}
		if len(events) == 0 {
			continue
		}
		// More than a full batch can be pending after a crash; full chunks
		// seal immediately so no recovered batch exceeds capacity.
		var b *models.Batch
		for _, e := range events {
			if b == nil {
				b = models.NewBatch(queue, e.Timestamp)
			}
			b.Append(e)
			if len(b.Records) >= a.opts.MaxBatchSize {
				a.open[queue] = b
				if err := a.sealLocked(ctx, queue, "recovery"); err != nil {
					a.log.Error("recovery seal failed", logger.String("queue", string(queue)), logger.Error(err))
				}
				b = nil
			}
		}
		if b != nil {
			a.open[queue] = b
		}
		a.log.Info("recovered open events",
			logger.String("queue", string(queue)),
			logger.Int("events", len(events)))
	}
	return nil
}

// Run seals batches on age until the context is cancelled, then flushes
// whatever is still open.
func (a *BatchAggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			a.sealExpired(ctx)
		}
	}
}

func (a *BatchAggregator) sealExpired(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for queue, timeout := range map[models.QueueName]time.Duration{
		models.QueueFast: a.opts.FastTimeout,
		models.QueueSlow: a.opts.SlowTimeout,
	} {
		if err := a.sealParkedLocked(ctx, queue); err != nil {
			a.log.Error("parked seal retry failed", logger.String("queue", string(queue)), logger.Error(err))
			continue
		}
		b := a.open[queue]
		if b == nil || len(b.Records) == 0 {
			continue
		}
		if now.Sub(b.WindowStart) >= timeout {
			if err := a.sealLocked(ctx, queue, "timeout"); err != nil {
				a.log.Error("timeout-triggered seal failed", logger.String("queue", string(queue)), logger.Error(err))
			}
		}
	}
}

// Flush seals all non-empty open batches regardless of age. Used on
// shutdown so no accepted event waits out a restart unbatched.
func (a *BatchAggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, queue := range []models.QueueName{models.QueueFast, models.QueueSlow} {
		if err := a.sealLocked(ctx, queue, "flush"); err != nil {
			a.log.Error("flush seal failed", logger.String("queue", string(queue)), logger.Error(err))
		}
	}
}
