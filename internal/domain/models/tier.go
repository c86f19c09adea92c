package models

import "time"

// TierID names a cost/latency/capability class of inference backend.
type TierID string

const (
	TierHot  TierID = "hot"
	TierWarm TierID = "warm"
	TierCold TierID = "cold"
)

// TierProfile is the static cost/latency/capability profile of a tier.
// Loaded from configuration; mutated only via explicit config reload.
type TierProfile struct {
	ID               TierID        `json:"id"`
	Model            string        `json:"model"`
	CostPer1KTokens  float64       `json:"cost_per_1k_tokens"`
	TypicalLatencyMS int64         `json:"typical_latency_ms"`
	CapabilityScore  float64       `json:"capability_score"`
	MaxTokens        int           `json:"max_tokens"`
	Timeout          time.Duration `json:"timeout"`
	RateLimitRPM     float64       `json:"rate_limit_rpm"`
}

// EstimateCost returns the dollar cost of a prompt of the given token count.
func (t *TierProfile) EstimateCost(tokens int) float64 {
	return float64(tokens) / 1000.0 * t.CostPer1KTokens
}

// QualityRequirement constrains tier selection for one request.
type QualityRequirement struct {
	MaxLatencyMS  int64   `json:"max_latency_ms"`
	MinCapability float64 `json:"min_capability"`
}

// RoutingDecision records why a tier was (or was not) chosen. Logged for
// observability, never persisted beyond metrics.
type RoutingDecision struct {
	ChosenTier    TierID  `json:"chosen_tier"`
	Reason        string  `json:"reason"`
	CacheHit      bool    `json:"cache_hit"`
	EstimatedCost float64 `json:"estimated_cost"`
}
