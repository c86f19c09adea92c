package compressor

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
)

func makeTradeEvent(t *testing.T, ts time.Time, token, wallet string, profit float64) *models.Event {
	t.Helper()
	e, err := models.NewEvent(ts, &models.TradePayload{
		Wallet:          wallet,
		Token:           token,
		Strategy:        "copy_trade",
		AmountSOL:       1.5,
		ProfitSOL:       profit,
		ExecutionTimeMS: 250,
		Success:         profit > 0,
	})
	require.NoError(t, err)
	return e
}

func makeSealedBatch(t *testing.T, n int) *models.Batch {
	t.Helper()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b := models.NewBatch(models.QueueFast, base)
	for i := 0; i < n; i++ {
		e := makeTradeEvent(t, base.Add(time.Duration(i)*time.Second), "SOL", "wallet-a", 0.1)
		require.True(t, b.Append(e))
	}
	b.Seal(base.Add(time.Duration(n) * time.Second))
	return b
}

func TestCompressRoundTripPreservesOrder(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b := models.NewBatch(models.QueueFast, base)

	e1 := makeTradeEvent(t, base, "SOL", "wallet-a", 0.5)
	e2, err := models.NewEvent(base.Add(time.Second), &models.PriceTickPayload{
		Token: "SOL", Price: 142.5, Volume: 10, Venue: "raydium",
	})
	require.NoError(t, err)
	e2.Features = &models.FeatureVector{
		SubjectID: "SOL",
		AsOf:      base.Add(time.Second),
		Indicators: map[string]float64{
			"ema_5": 141.2, "rsi_14": 61.3, "macd": 0.42,
		},
	}
	e3, err := models.NewEvent(base.Add(2*time.Second), &models.OpportunityPayload{
		Token: "JUP", Strategy: "sandwich", EdgeBPS: 12, Probability: 0.7, ExpiresInMS: 800,
	})
	require.NoError(t, err)

	for _, e := range []*models.Event{e1, e2, e3} {
		require.True(t, b.Append(e))
	}
	b.Seal(base.Add(3 * time.Second))

	c := New()
	prompt, err := c.Compress(b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, prompt.BatchID)
	assert.Equal(t, 3, prompt.EventCount)
	assert.Greater(t, prompt.EstimatedTokens, 0)

	got, err := c.Decompress(prompt)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Order and identity survive the round trip.
	for i, want := range []*models.Event{e1, e2, e3} {
		assert.Equal(t, want.ID, got[i].ID)
		assert.Equal(t, want.Kind, got[i].Kind)
		assert.True(t, want.Timestamp.Equal(got[i].Timestamp))
	}

	trade, ok := got[0].Payload.(*models.TradePayload)
	require.True(t, ok)
	assert.Equal(t, "wallet-a", trade.Wallet)
	assert.InDelta(t, 0.5, trade.ProfitSOL, 1e-9)

	require.NotNil(t, got[1].Features)
	assert.Equal(t, "SOL", got[1].Features.SubjectID)
	assert.InDelta(t, 61.3, got[1].Features.Indicators["rsi_14"], 1e-9)
	assert.Nil(t, got[2].Features)
}

func TestCompressEmptyBatch(t *testing.T) {
	c := New()

	_, err := c.Compress(nil)
	var cerr *CompressionError
	require.ErrorAs(t, err, &cerr)

	b := models.NewBatch(models.QueueSlow, time.Now())
	_, err = c.Compress(b)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, b.ID, cerr.BatchID)
}

func TestCompressDeterministic(t *testing.T) {
	b := makeSealedBatch(t, 10)
	c := New()

	p1, err := c.Compress(b)
	require.NoError(t, err)
	p2, err := c.Compress(b)
	require.NoError(t, err)

	assert.Equal(t, p1.Payload, p2.Payload)
	assert.Equal(t, p1.Skeleton, p2.Skeleton)
}

func TestCompressReducesTokensVersusNaive(t *testing.T) {
	b := makeSealedBatch(t, 100)
	c := New()

	prompt, err := c.Compress(b)
	require.NoError(t, err)

	// Naive cost: one fully rendered JSON prompt per event, each carrying the
	// same instruction skeleton.
	naiveTokens := 0
	for _, e := range b.Records {
		raw, err := json.Marshal(e)
		require.NoError(t, err)
		naiveTokens += estimateTokens(skeletonTemplate, string(raw))
	}

	reduction := 1 - float64(prompt.EstimatedTokens)/float64(naiveTokens)
	assert.GreaterOrEqualf(t, reduction, 0.4,
		"expected at least 40%% token reduction, got %.1f%%", reduction*100)
}

func TestDecompressRejectsCorruptPayload(t *testing.T) {
	c := New()

	_, err := c.Decompress(&models.CompressedPrompt{BatchID: "x", Payload: "!!not-base64!!"})
	var cerr *CompressionError
	require.ErrorAs(t, err, &cerr)

	_, err = c.Decompress(&models.CompressedPrompt{BatchID: "x", Payload: "AAAA"})
	require.ErrorAs(t, err, &cerr)
}

func TestDecompressRejectsTruncatedPayload(t *testing.T) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b := models.NewBatch(models.QueueFast, base)
	require.True(t, b.Append(makeTradeEvent(t, base, "SOL", "wallet-a", 0.5)))
	b.Seal(base.Add(time.Second))

	c := New()
	prompt, err := c.Compress(b)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(prompt.Payload)
	require.NoError(t, err)

	// Every truncation point must error, including cuts inside a
	// fixed-width field; zero-padded garbage is not an acceptable decode.
	var cerr *CompressionError
	for cut := 1; cut < len(raw); cut++ {
		_, err := c.Decompress(&models.CompressedPrompt{
			BatchID: b.ID,
			Payload: base64.StdEncoding.EncodeToString(raw[:cut]),
		})
		require.ErrorAs(t, err, &cerr, "cut at %d bytes decoded cleanly", cut)
	}
}
