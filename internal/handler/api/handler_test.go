package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InferCore/internal/domain/models"
	"InferCore/internal/repository"
	"InferCore/internal/service/cache"
	"InferCore/internal/usecase"
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

type nopObserver struct{}

func (nopObserver) Observe(*models.Event) {}

type fixedRouter struct{ result models.AnalysisResult }

func (f fixedRouter) Route(context.Context, *models.CompressedPrompt, models.QualityRequirement) (*models.RoutedResult, error) {
	res := f.result
	return &models.RoutedResult{Result: &res, TierUsed: models.TierWarm, CostEstimate: 0.02}, nil
}

type emptyFeatureStore struct{}

func (emptyFeatureStore) Latest(string) (*models.FeatureVector, bool) { return nil, false }
func (emptyFeatureStore) Put(*models.FeatureVector)                   {}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store := cache.NewMemoryStore(100, time.Minute)
	engine := cache.NewEngine(store, cache.Config{DefaultTTL: time.Hour}, logger.Nop())
	t.Cleanup(func() { _ = engine.Close() })

	agg := usecase.NewBatchAggregator(repository.NewMemoryEventQueue(), nopMetrics{}, logger.Nop(), usecase.AggregatorOptions{})
	analyzer := usecase.NewAnalyzer(fixedRouter{result: models.AnalysisResult{
		StrategyRecommendation: "hold",
		ConfidenceScore:        0.8,
		RiskAssessment:         models.RiskLow,
		ExecutionPriority:      4,
	}}, emptyFeatureStore{})

	return NewHandler(agg, analyzer, engine, nopObserver{}, logger.Nop())
}

func doRequest(t *testing.T, h echo.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("{}")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestIngestEventAccepted(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h.IngestEvent, http.MethodPost, "/api/v1/events",
		`{"kind":"trade","payload":{"wallet":"w1","token":"SOL","strategy":"copy_trade","amount_sol":1.2,"profit_sol":0.1,"execution_time_ms":120,"success":true}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_id"`)
	assert.Contains(t, rec.Body.String(), `"queue":"fast"`)
}

func TestIngestEventRejectsUnknownKind(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h.IngestEvent, http.MethodPost, "/api/v1/events",
		`{"kind":"sentiment","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEventRejectsMissingPayload(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h.IngestEvent, http.MethodPost, "/api/v1/events", `{"kind":"trade"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeReturnsResult(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h.Analyze, http.MethodPost, "/api/v1/analyze", `{"entity":"SOL"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier_used":"warm"`)
	assert.Contains(t, rec.Body.String(), `"strategy_recommendation":"hold"`)
}

func TestAnalyzeRequiresEntity(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h.Analyze, http.MethodPost, "/api/v1/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStatsAndClear(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h.CacheStats, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate"`)

	rec = doRequest(t, h.ClearCache, http.MethodPost, "/api/v1/cache/clear", `{"prefix":"SOL"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted"`)
}
