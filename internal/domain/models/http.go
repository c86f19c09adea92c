package models

import "encoding/json"

// IngestRequest is the POST /events body.
type IngestRequest struct {
	Kind      string          `json:"kind" validate:"required,oneof=trade price_tick opportunity"`
	Timestamp int64           `json:"timestamp" validate:"omitempty,gt=0"` // unix ms; defaults to now
	Payload   json.RawMessage `json:"payload" validate:"required"`
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	EventID string `json:"event_id"`
	Queue   string `json:"queue"`
}

// AnalyzeRequest is the POST /analyze body: an ad-hoc analysis trigger with
// an explicit quality requirement.
type AnalyzeRequest struct {
	Entity        string  `json:"entity" validate:"required"`
	Dimension     string  `json:"dimension" default:"adhoc" validate:"omitempty,max=64"`
	Strategy      string  `json:"strategy" default:"mixed" validate:"omitempty,max=64"`
	MaxLatencyMS  int64   `json:"max_latency_ms" default:"5000" validate:"gt=0"`
	MinCapability float64 `json:"min_capability" default:"0.5" validate:"gte=0,lte=1"`
}

// AnalyzeResponse carries the routed result with provenance.
type AnalyzeResponse struct {
	Result       *AnalysisResult `json:"result"`
	TierUsed     TierID          `json:"tier_used"`
	CacheHit     bool            `json:"cache_hit"`
	CostEstimate float64         `json:"cost_estimate"`
	LatencyMS    int64           `json:"latency_ms"`
}

// CacheClearRequest optionally narrows a clear to a key prefix.
type CacheClearRequest struct {
	Prefix string `json:"prefix" validate:"omitempty,max=256"`
}

// CacheStatsResponse is the GET /cache/stats body.
type CacheStatsResponse struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	EntryCount  int64   `json:"entry_count"`
	MemoryBytes int64   `json:"memory_bytes"`
}
