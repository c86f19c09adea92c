package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
	"InferCore/internal/repository"
	"InferCore/internal/services/compressor"
	"InferCore/pkg/logger"
)

type stubRouter struct {
	mu       sync.Mutex
	requests []models.QualityRequirement
	err      error
	result   models.AnalysisResult
}

func (s *stubRouter) Route(_ context.Context, _ *models.CompressedPrompt, req models.QualityRequirement) (*models.RoutedResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	res := s.result
	return &models.RoutedResult{Result: &res, TierUsed: models.TierCold, CostEstimate: 0.01}, nil
}

type noopAnnotator struct{}

func (noopAnnotator) Annotate([]*models.Event) int { return 0 }

type recordingSink struct {
	mu        sync.Mutex
	published []string
}

func (s *recordingSink) Publish(_ context.Context, batchID string, _ *models.RoutedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, batchID)
	return nil
}

func (s *recordingSink) Close() error { return nil }

type failingSink struct{}

func (failingSink) Publish(context.Context, string, *models.RoutedResult) error {
	return errors.New("broker down")
}
func (failingSink) Close() error { return nil }

func sealedBatch(t *testing.T, queue models.QueueName, n int) *models.Batch {
	t.Helper()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b := models.NewBatch(queue, now)
	for i := 0; i < n; i++ {
		b.Append(tradeEvent(t, now.Add(time.Duration(i)*time.Second)))
	}
	b.Seal(now.Add(time.Duration(n) * time.Second))
	return b
}

func newPipeline(rt *stubRouter, sink interface {
	Publish(context.Context, string, *models.RoutedResult) error
	Close() error
}, opts PipelineOptions) *Pipeline {
	return NewPipeline(
		repository.NewMemoryEventQueue(),
		compressor.New(),
		rt,
		noopAnnotator{},
		NewSynthesizer(SynthesisOptions{Enabled: true, RiskVetoThreshold: 0.6}),
		sink,
		repository.NopResultArchive{},
		nopMetrics{},
		logger.Nop(),
		opts,
	)
}

func TestProcessHappyPath(t *testing.T) {
	rt := &stubRouter{result: models.AnalysisResult{
		StrategyRecommendation: "scale_in",
		ConfidenceScore:        0.8,
		RiskAssessment:         models.RiskLow,
		ExecutionPriority:      7,
	}}
	sink := &recordingSink{}
	p := newPipeline(rt, sink, PipelineOptions{
		FastRequirement: models.QualityRequirement{MaxLatencyMS: 1000},
	})

	b := sealedBatch(t, models.QueueFast, 5)
	p.Process(context.Background(), b)

	assert.Equal(t, models.BatchDispatched, b.Status)
	require.Len(t, sink.published, 1)
	assert.Equal(t, b.ID, sink.published[0])
	require.Len(t, rt.requests, 1)
	assert.Equal(t, int64(1000), rt.requests[0].MaxLatencyMS, "fast batches carry the fast requirement")
}

func TestProcessRoutingFailureMarksBatchFailed(t *testing.T) {
	rt := &stubRouter{err: errors.New("all tiers down")}
	sink := &recordingSink{}
	p := newPipeline(rt, sink, PipelineOptions{})

	b := sealedBatch(t, models.QueueSlow, 3)
	p.Process(context.Background(), b)

	assert.Equal(t, models.BatchFailed, b.Status)
	assert.Empty(t, sink.published)
}

func TestProcessPublishFailureDoesNotFailBatch(t *testing.T) {
	rt := &stubRouter{result: models.AnalysisResult{
		StrategyRecommendation: "hold",
		ConfidenceScore:        0.9,
		RiskAssessment:         models.RiskLow,
		ExecutionPriority:      3,
	}}
	p := newPipeline(rt, failingSink{}, PipelineOptions{})

	b := sealedBatch(t, models.QueueFast, 2)
	p.Process(context.Background(), b)

	assert.Equal(t, models.BatchDispatched, b.Status, "publish failure is best effort")
}

func TestRunDrainsFastBeforeSlow(t *testing.T) {
	store := repository.NewMemoryEventQueue()
	ctx := context.Background()

	slow := sealedBatch(t, models.QueueSlow, 2)
	fast := sealedBatch(t, models.QueueFast, 2)
	require.NoError(t, store.SealBatch(ctx, models.QueueSlow, slow, 0))
	require.NoError(t, store.SealBatch(ctx, models.QueueFast, fast, 0))

	rt := &stubRouter{result: models.AnalysisResult{
		StrategyRecommendation: "hold", ConfidenceScore: 0.8,
		RiskAssessment: models.RiskLow, ExecutionPriority: 5,
	}}
	sink := &recordingSink{}
	p := NewPipeline(store, compressor.New(), rt, noopAnnotator{},
		NewSynthesizer(SynthesisOptions{}), sink, repository.NopResultArchive{},
		nopMetrics{}, logger.Nop(),
		PipelineOptions{PollInterval: 5 * time.Millisecond, DispatchLimit: 1})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = p.Run(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.published) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{fast.ID, slow.ID}, sink.published)
}

func TestSynthesizerScoring(t *testing.T) {
	s := NewSynthesizer(SynthesisOptions{Enabled: true, RiskVetoThreshold: 0.6})

	strong := &models.AnalysisResult{ConfidenceScore: 0.9, RiskAssessment: models.RiskLow, ExecutionPriority: 9}
	weak := &models.AnalysisResult{ConfidenceScore: 0.3, RiskAssessment: models.RiskMedium, ExecutionPriority: 2}
	assert.Greater(t, s.Score(strong), s.Score(weak))

	// High risk below the veto threshold scores zero.
	vetoed := &models.AnalysisResult{ConfidenceScore: 0.5, RiskAssessment: models.RiskHigh, ExecutionPriority: 10}
	assert.Zero(t, s.Score(vetoed))

	// Above the threshold high risk still contributes, heavily discounted.
	risky := &models.AnalysisResult{ConfidenceScore: 0.9, RiskAssessment: models.RiskHigh, ExecutionPriority: 10}
	assert.Greater(t, s.Score(risky), 0.0)
	assert.Less(t, s.Score(risky), s.Score(strong))

	disabled := NewSynthesizer(SynthesisOptions{Enabled: false})
	assert.Zero(t, disabled.Score(strong))
}
