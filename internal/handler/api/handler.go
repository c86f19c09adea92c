package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"InferCore/internal/domain/models"
	"InferCore/internal/service/cache"
	"InferCore/internal/services/router"
	"InferCore/internal/usecase"
	pkghttp "InferCore/pkg/http"
	"InferCore/pkg/logger"
)

// EventObserver receives every accepted event; the feature engine hangs off
// this to build price history.
type EventObserver interface {
	Observe(e *models.Event)
}

// Handler exposes the ingestion and analysis API.
type Handler struct {
	aggregator *usecase.BatchAggregator
	analyzer   *usecase.Analyzer
	cache      *cache.Engine
	observer   EventObserver
	log        *logger.Logger
}

func NewHandler(
	aggregator *usecase.BatchAggregator,
	analyzer *usecase.Analyzer,
	cacheEngine *cache.Engine,
	observer EventObserver,
	log *logger.Logger,
) *Handler {
	return &Handler{
		aggregator: aggregator,
		analyzer:   analyzer,
		cache:      cacheEngine,
		observer:   observer,
		log:        log,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	v1 := e.Group("/api/v1")
	v1.POST("/events", h.IngestEvent)
	v1.POST("/analyze", h.Analyze)
	v1.POST("/cache/clear", h.ClearCache)
	v1.GET("/cache/stats", h.CacheStats)
}

func (h *Handler) Health(c echo.Context) error {
	return pkghttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// IngestEvent accepts one event and folds it into a batch. 202: acceptance
// means durably queued, not analyzed.
func (h *Handler) IngestEvent(c echo.Context) error {
	req := new(models.IngestRequest)
	if verr := pkghttp.ReadAndValidateRequest(c, req); verr != nil {
		return pkghttp.BadRequestResponse(c, verr)
	}

	payload, err := decodePayload(req.Kind, req.Payload)
	if err != nil {
		return pkghttp.AppErrorResponse(c, pkghttp.BadRequestError("invalid payload").WithError(err))
	}

	ts := time.Now().UTC()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp).UTC()
	}
	e, err := models.NewEvent(ts, payload)
	if err != nil {
		return pkghttp.AppErrorResponse(c, pkghttp.BadRequestError("invalid event").WithError(err))
	}

	queue, err := h.aggregator.Enqueue(c.Request().Context(), e)
	if err != nil {
		h.log.Error("event enqueue failed", logger.String("kind", req.Kind), logger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.UnavailableError("event queue unavailable").WithError(err))
	}
	h.observer.Observe(e)

	return pkghttp.AcceptedResponse(c, models.IngestResponse{
		EventID: e.ID,
		Queue:   string(queue),
	})
}

// Analyze runs an ad-hoc single-entity analysis with the caller's quality
// requirement.
func (h *Handler) Analyze(c echo.Context) error {
	req := new(models.AnalyzeRequest)
	if verr := pkghttp.ReadAndValidateRequest(c, req); verr != nil {
		return pkghttp.BadRequestResponse(c, verr)
	}

	res, err := h.analyzer.Analyze(c.Request().Context(), req)
	if err != nil {
		return h.routingErrorResponse(c, err)
	}

	return pkghttp.SuccessResponse(c, models.AnalyzeResponse{
		Result:       res.Result,
		TierUsed:     res.TierUsed,
		CacheHit:     res.CacheHit,
		CostEstimate: res.CostEstimate,
		LatencyMS:    res.LatencyMS,
	})
}

func (h *Handler) routingErrorResponse(c echo.Context, err error) error {
	var exhausted *router.TierExhaustedError
	switch {
	case errors.Is(err, router.ErrNoTierAvailable):
		return pkghttp.AppErrorResponse(c,
			pkghttp.UnavailableError("no tier satisfies the requested quality").WithError(err))
	case errors.As(err, &exhausted):
		return pkghttp.AppErrorResponse(c,
			pkghttp.GatewayTimeoutError("all eligible tiers failed").
				WithParam("attempts", exhausted.Attempts).
				WithError(err))
	default:
		h.log.Error("analyze failed", logger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalError("analysis failed").WithError(err))
	}
}

// ClearCache drops cached results, optionally narrowed to a key prefix.
func (h *Handler) ClearCache(c echo.Context) error {
	req := new(models.CacheClearRequest)
	if verr := pkghttp.ReadAndValidateRequest(c, req); verr != nil {
		return pkghttp.BadRequestResponse(c, verr)
	}

	n, err := h.cache.ClearMatching(c.Request().Context(), req.Prefix)
	if err != nil {
		h.log.Error("cache clear failed", logger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalError("cache clear failed").WithError(err))
	}
	return pkghttp.SuccessResponse(c, map[string]int64{"deleted": n})
}

// CacheStats reports hit/miss counters and store size.
func (h *Handler) CacheStats(c echo.Context) error {
	s := h.cache.Stats(c.Request().Context())
	return pkghttp.SuccessResponse(c, models.CacheStatsResponse{
		Hits:        s.Hits,
		Misses:      s.Misses,
		HitRate:     s.HitRate,
		EntryCount:  s.EntryCount,
		MemoryBytes: s.MemoryBytes,
	})
}

func decodePayload(kind string, raw json.RawMessage) (models.EventPayload, error) {
	var p models.EventPayload
	switch models.EventKind(kind) {
	case models.KindTrade:
		p = &models.TradePayload{}
	case models.KindPriceTick:
		p = &models.PriceTickPayload{}
	case models.KindOpportunity:
		p = &models.OpportunityPayload{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}
