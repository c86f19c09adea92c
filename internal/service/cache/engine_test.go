package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
	"InferCore/pkg/logger"
)

func testKey(entity string) Key {
	return NewKey(models.PromptIdentity{
		Entity:    entity,
		Dimension: "fast",
		Strategy:  "copy_trade",
		AsOf:      time.Date(2026, 8, 30, 12, 3, 0, 0, time.UTC),
	}, 5*time.Minute)
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(NewMemoryStore(1000, time.Minute), cfg, logger.Nop())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestKeyBucketsTime(t *testing.T) {
	id := models.PromptIdentity{Entity: "SOL", Dimension: "fast", Strategy: "copy_trade"}

	id.AsOf = time.Date(2026, 8, 30, 12, 3, 10, 0, time.UTC)
	k1 := NewKey(id, 5*time.Minute)
	id.AsOf = time.Date(2026, 8, 30, 12, 4, 59, 0, time.UTC)
	k2 := NewKey(id, 5*time.Minute)
	id.AsOf = time.Date(2026, 8, 30, 12, 5, 1, 0, time.UTC)
	k3 := NewKey(id, 5*time.Minute)

	assert.Equal(t, k1.String(), k2.String(), "same bucket, same key")
	assert.NotEqual(t, k1.String(), k3.String(), "next bucket, new key")

	// Strategy is hashed, not embedded raw.
	assert.NotContains(t, k1.String(), "copy_trade")
	assert.Contains(t, k1.String(), "infercore:cache:SOL:fast:")
}

func TestEffectiveLifetimeMonotonicInConfidence(t *testing.T) {
	ttl := time.Hour
	prev := time.Duration(0)
	for _, c := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		e := Entry{Confidence: c, TTL: ttl}
		life := e.EffectiveLifetime()
		assert.Greater(t, life, prev, "lifetime must grow with confidence (c=%v)", c)
		prev = life
	}
	// Bounds: floor at a quarter TTL, ceiling at the full TTL; confidence is
	// clamped into [0, 1] first.
	for c, want := range map[float64]time.Duration{0: ttl / 4, 1: ttl, -5: ttl / 4, 7: ttl} {
		e := Entry{Confidence: c, TTL: ttl}
		assert.Equal(t, want, e.EffectiveLifetime(), "confidence %v", c)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	e := newTestEngine(t, Config{DefaultTTL: time.Hour})
	ctx := context.Background()
	key := testKey("SOL")

	result := &models.AnalysisResult{
		StrategyRecommendation: "hold",
		ConfidenceScore:        0.8,
		RiskAssessment:         models.RiskLow,
		ExecutionPriority:      5,
	}
	require.NoError(t, e.Set(ctx, key, result, 0.8, time.Hour))

	entry, ok := e.Get(ctx, key)
	require.True(t, ok)
	assert.InDelta(t, 0.8, entry.Confidence, 1e-9)

	_, ok = e.Get(ctx, testKey("JUP"))
	assert.False(t, ok)

	s := e.Stats(ctx)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
	assert.Equal(t, int64(1), s.EntryCount)
}

func TestLowConfidenceEntryExpiresEarly(t *testing.T) {
	e := newTestEngine(t, Config{DefaultTTL: time.Hour})
	ctx := context.Background()
	key := testKey("SOL")

	// Write entries backdated past the low-confidence effective lifetime but
	// well inside the nominal TTL.
	write := func(confidence float64) {
		entry := Entry{
			Key:        key.String(),
			Value:      json.RawMessage(`"v"`),
			Confidence: confidence,
			CreatedAt:  time.Now().Add(-20 * time.Minute), // past hour/4
			TTL:        time.Hour,
		}
		raw, err := json.Marshal(&entry)
		require.NoError(t, err)
		require.NoError(t, e.store.SetBytes(ctx, key.String(), raw, time.Hour))
	}

	write(0.0)
	_, ok := e.Get(ctx, key)
	assert.False(t, ok, "entry past its confidence-weighted lifetime must not serve")

	// A confident entry of the same age still serves.
	write(1.0)
	_, ok = e.Get(ctx, key)
	assert.True(t, ok)
}

type failingStore struct{ err error }

func (f failingStore) GetBytes(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}
func (f failingStore) SetBytes(context.Context, string, []byte, time.Duration) error { return f.err }
func (f failingStore) Delete(context.Context, ...string) error                       { return f.err }
func (f failingStore) DeletePrefix(context.Context, string) (int64, error)           { return 0, f.err }
func (f failingStore) Count(context.Context) (int64, error)                          { return 0, f.err }
func (f failingStore) MemoryBytes(context.Context) (int64, error)                    { return 0, f.err }
func (f failingStore) Close() error                                                  { return nil }

func TestUnreachableStoreDegradesToMiss(t *testing.T) {
	e := NewEngine(failingStore{err: errors.New("connection refused")}, Config{}, logger.Nop())
	ctx := context.Background()
	key := testKey("SOL")

	_, ok := e.Get(ctx, key)
	assert.False(t, ok, "store failure reads as a miss, never an error")

	// Set surfaces the error for logging but nothing more.
	err := e.Set(ctx, key, "v", 0.9, time.Minute)
	assert.Error(t, err)

	s := e.Stats(ctx)
	assert.Equal(t, uint64(1), s.Misses)
}

func TestClearMatching(t *testing.T) {
	e := newTestEngine(t, Config{DefaultTTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, testKey("SOL"), "a", 0.9, time.Hour))
	require.NoError(t, e.Set(ctx, testKey("JUP"), "b", 0.9, time.Hour))

	n, err := e.ClearMatching(ctx, "SOL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := e.Get(ctx, testKey("SOL"))
	assert.False(t, ok)
	_, ok = e.Get(ctx, testKey("JUP"))
	assert.True(t, ok)

	n, err = e.ClearMatching(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
