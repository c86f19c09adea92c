package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
	"InferCore/pkg/logger"
)

func TestEMAKnownSeries(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}

	v, ok := EMA(closes, 3)
	require.True(t, ok)
	// Seed SMA(1,2,3)=2, then 4 and 5 folded with k=0.5: 3, then 4.
	assert.InDelta(t, 4.0, v, 1e-9)

	_, ok = EMA(closes[:2], 3)
	assert.False(t, ok)
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
	}
	v, ok := RSI(up, 14)
	require.True(t, ok)
	assert.InDelta(t, 100, v, 1e-9)

	down := make([]float64, 20)
	for i := range down {
		down[i] = float64(100 - i)
	}
	v, ok = RSI(down, 14)
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-9)

	_, ok = RSI(up[:10], 14)
	assert.False(t, ok)
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 50
	}
	macd, sig, hist, ok := MACD(flat, 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, 0, macd, 1e-9)
	assert.InDelta(t, 0, sig, 1e-9)
	assert.InDelta(t, 0, hist, 1e-9)
}

func TestMEVCompositeBounded(t *testing.T) {
	assert.LessOrEqual(t, MEVComposite(10, 10, 10), 1.0)
	assert.GreaterOrEqual(t, MEVComposite(-10, -10, -10), -1.0)
	assert.InDelta(t, 0, MEVComposite(0, 0, 1), 1e-9)
}

func TestVectorStoreStaleness(t *testing.T) {
	s := NewVectorStore(time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Put(&models.FeatureVector{SubjectID: "SOL", AsOf: base.Add(-30 * time.Second)})
	_, ok := s.Latest("SOL")
	assert.True(t, ok)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = s.Latest("SOL")
	assert.False(t, ok, "stale vector must read as absent")

	// Older vectors never replace newer ones.
	s.Put(&models.FeatureVector{SubjectID: "JUP", AsOf: base})
	s.Put(&models.FeatureVector{SubjectID: "JUP", AsOf: base.Add(-time.Hour)})
	s.now = func() time.Time { return base }
	v, ok := s.Latest("JUP")
	require.True(t, ok)
	assert.True(t, v.AsOf.Equal(base))
}

func TestEngineObserveAndRecompute(t *testing.T) {
	store := NewVectorStore(0)
	eng := NewEngine(Options{Workers: 2}, store, logger.Nop())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 60; i++ {
		price += 0.5
		e, err := models.NewEvent(base.Add(time.Duration(i)*time.Second), &models.PriceTickPayload{
			Token: "SOL", Price: price, Volume: 10 + float64(i), Venue: "raydium",
		})
		require.NoError(t, err)
		eng.Observe(e)
	}

	require.NoError(t, eng.recomputeDirty(context.Background()))

	v, ok := store.Latest("SOL")
	require.True(t, ok)
	assert.Equal(t, "SOL", v.SubjectID)
	assert.Contains(t, v.Indicators, "ema_5")
	assert.Contains(t, v.Indicators, "ema_20")
	assert.Contains(t, v.Indicators, "ema_50")
	assert.Contains(t, v.Indicators, "rsi_14")
	assert.Contains(t, v.Indicators, "macd")
	assert.Contains(t, v.Indicators, "mev_score")
	// Monotonic uptrend should read strongly overbought with positive score.
	assert.Greater(t, v.Indicators["rsi_14"], 70.0)
	assert.Greater(t, v.Indicators["mev_score"], 0.0)

	// A second sweep with nothing dirty is a no-op.
	require.NoError(t, eng.recomputeDirty(context.Background()))
}

func TestEngineAnnotate(t *testing.T) {
	store := NewVectorStore(0)
	eng := NewEngine(Options{}, store, logger.Nop())

	store.Put(&models.FeatureVector{
		SubjectID:  "SOL",
		AsOf:       time.Now(),
		Indicators: map[string]float64{"last_price": 142},
	})

	withVec, err := models.NewEvent(time.Now(), &models.TradePayload{Token: "SOL", Wallet: "w"})
	require.NoError(t, err)
	without, err := models.NewEvent(time.Now(), &models.TradePayload{Token: "JUP", Wallet: "w"})
	require.NoError(t, err)

	n := eng.Annotate([]*models.Event{withVec, without})
	assert.Equal(t, 1, n)
	require.NotNil(t, withVec.Features)
	assert.Nil(t, without.Features)
}
