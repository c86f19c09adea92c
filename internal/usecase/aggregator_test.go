package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
	"InferCore/internal/repository"
	"InferCore/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordEnqueued(string)               {}
func (nopMetrics) RecordBatchSealed(string, int)       {}
func (nopMetrics) RecordRequest(string, bool)          {}
func (nopMetrics) RecordCost(string, float64)          {}
func (nopMetrics) RecordLatency(string, time.Duration) {}
func (nopMetrics) RecordError(string)                  {}
func (nopMetrics) SetCacheStats(float64, int64, int64) {}

func newAggregator(t *testing.T, opts AggregatorOptions) *BatchAggregator {
	t.Helper()
	return NewBatchAggregator(repository.NewMemoryEventQueue(), nopMetrics{}, logger.Nop(), opts)
}

func tradeEvent(t *testing.T, ts time.Time) *models.Event {
	t.Helper()
	e, err := models.NewEvent(ts, &models.TradePayload{
		Wallet: "w1", Token: "SOL", Strategy: "copy_trade",
		AmountSOL: 1, ProfitSOL: 0.1, ExecutionTimeMS: 100, Success: true,
	})
	require.NoError(t, err)
	return e
}

func TestEnqueueRoutesByEventAge(t *testing.T) {
	agg := newAggregator(t, AggregatorOptions{FastWindow: 5 * time.Minute})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	q, err := agg.Enqueue(context.Background(), tradeEvent(t, now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.QueueFast, q)

	q, err = agg.Enqueue(context.Background(), tradeEvent(t, now.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.QueueSlow, q)
}

func TestBatchSealsAtCapacity(t *testing.T) {
	agg := newAggregator(t, AggregatorOptions{MaxBatchSize: 5, FastWindow: time.Hour})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := agg.Enqueue(ctx, tradeEvent(t, now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	// Five events sealed one batch; two remain open.
	b, err := agg.store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, models.BatchSealed, b.Status)
	assert.Len(t, b.Records, 5)
	require.NotNil(t, b.Stats)
	assert.Equal(t, 1, b.Stats.UniqueWallets)

	b, err = agg.store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	assert.Nil(t, b)

	open, err := agg.store.LoadOpen(ctx, models.QueueFast)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestBatchSealsOnTimeout(t *testing.T) {
	agg := newAggregator(t, AggregatorOptions{
		MaxBatchSize: 100, FastTimeout: 30 * time.Second, FastWindow: time.Hour,
	})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := agg.Enqueue(ctx, tradeEvent(t, now))
	require.NoError(t, err)

	// Under the timeout: nothing seals.
	agg.now = func() time.Time { return now.Add(10 * time.Second) }
	agg.sealExpired(ctx)
	b, err := agg.store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	assert.Nil(t, b)

	// Past the timeout: the singleton batch seals.
	agg.now = func() time.Time { return now.Add(31 * time.Second) }
	agg.sealExpired(ctx)
	b, err = agg.store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Len(t, b.Records, 1)
}

func TestBatchNeverExceedsMaxSize(t *testing.T) {
	agg := newAggregator(t, AggregatorOptions{MaxBatchSize: 10, FastWindow: time.Hour})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 95; i++ {
		_, err := agg.Enqueue(ctx, tradeEvent(t, now))
		require.NoError(t, err)
	}
	for {
		b, err := agg.store.PopSealed(ctx, models.QueueFast)
		require.NoError(t, err)
		if b == nil {
			break
		}
		assert.Len(t, b.Records, 10)
	}
}

func TestRecoverRebuildsOpenBatch(t *testing.T) {
	store := repository.NewMemoryEventQueue()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first := NewBatchAggregator(store, nopMetrics{}, logger.Nop(), AggregatorOptions{MaxBatchSize: 100, FastWindow: time.Hour})
	first.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_, err := first.Enqueue(ctx, tradeEvent(t, now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	// Simulated restart: a fresh aggregator over the same store.
	second := NewBatchAggregator(store, nopMetrics{}, logger.Nop(), AggregatorOptions{MaxBatchSize: 100, FastWindow: time.Hour})
	second.now = func() time.Time { return now }
	require.NoError(t, second.Recover(ctx))

	second.Flush(ctx)
	b, err := store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Len(t, b.Records, 3)
	assert.True(t, b.WindowStart.Equal(now))
}

func TestFlushSealsPartialBatches(t *testing.T) {
	agg := newAggregator(t, AggregatorOptions{MaxBatchSize: 100, FastWindow: time.Minute})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := agg.Enqueue(ctx, tradeEvent(t, now))
	require.NoError(t, err)
	_, err = agg.Enqueue(ctx, tradeEvent(t, now.Add(-time.Hour)))
	require.NoError(t, err)

	agg.Flush(ctx)

	for _, q := range []models.QueueName{models.QueueFast, models.QueueSlow} {
		b, err := agg.store.PopSealed(ctx, q)
		require.NoError(t, err)
		require.NotNil(t, b, "queue %s should have a flushed batch", q)
		assert.Len(t, b.Records, 1)
	}
}

func TestSealFailureParksBatchAndKeepsCapacity(t *testing.T) {
	store := &flakySealQueue{EventQueue: repository.NewMemoryEventQueue(), failures: 1}
	agg := NewBatchAggregator(store, nopMetrics{}, logger.Nop(), AggregatorOptions{MaxBatchSize: 5, FastWindow: time.Hour})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	// The fifth event triggers a seal that fails; the full batch is parked.
	for i := 0; i < 5; i++ {
		_, err := agg.Enqueue(ctx, tradeEvent(t, now))
		require.NoError(t, err)
	}
	b, err := store.PopSealed(ctx, models.QueueFast)
	require.NoError(t, err)
	assert.Nil(t, b)

	// Later events start a fresh batch instead of growing the parked one.
	for i := 0; i < 3; i++ {
		_, err := agg.Enqueue(ctx, tradeEvent(t, now))
		require.NoError(t, err)
	}

	// The next tick retries the parked batch; Flush seals the open one.
	agg.sealExpired(ctx)
	agg.Flush(ctx)

	sizes := []int{}
	for {
		b, err := store.PopSealed(ctx, models.QueueFast)
		require.NoError(t, err)
		if b == nil {
			break
		}
		assert.LessOrEqual(t, len(b.Records), 5)
		sizes = append(sizes, len(b.Records))
	}
	assert.Equal(t, []int{5, 3}, sizes)
}

func TestEnqueueErrorPropagates(t *testing.T) {
	agg := NewBatchAggregator(failingPushQueue{}, nopMetrics{}, logger.Nop(), AggregatorOptions{})
	_, err := agg.Enqueue(context.Background(), tradeEvent(t, time.Now()))
	var enqErr *EnqueueError
	require.ErrorAs(t, err, &enqErr)
	assert.ErrorIs(t, err, errPushFailed)
}

var errPushFailed = errors.New("store down")

var errSealFailed = errors.New("seal rejected")

type flakySealQueue struct {
	drepo.EventQueue
	failures int
}

func (q *flakySealQueue) SealBatch(ctx context.Context, queue models.QueueName, b *models.Batch, n int) error {
	if q.failures > 0 {
		q.failures--
		return errSealFailed
	}
	return q.EventQueue.SealBatch(ctx, queue, b, n)
}

type failingPushQueue struct{}

func (failingPushQueue) Push(context.Context, models.QueueName, *models.Event) error {
	return errPushFailed
}
func (failingPushQueue) LoadOpen(context.Context, models.QueueName) ([]*models.Event, error) {
	return nil, nil
}
func (failingPushQueue) SealBatch(context.Context, models.QueueName, *models.Batch, int) error {
	return nil
}
func (failingPushQueue) PopSealed(context.Context, models.QueueName) (*models.Batch, error) {
	return nil, nil
}
func (failingPushQueue) Close() error { return nil }
