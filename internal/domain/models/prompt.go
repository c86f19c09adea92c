package models

import "time"

// CompressedPrompt is the read-only artifact handed from the compressor to
// the router. Payload decodes deterministically back to the originating
// batch records, in order.
type CompressedPrompt struct {
	BatchID         string         `json:"batch_id"`
	Skeleton        string         `json:"skeleton"`
	Payload         string         `json:"payload"` // base64-wrapped binary records
	EstimatedTokens int            `json:"estimated_tokens"`
	EventCount      int            `json:"event_count"`
	Identity        PromptIdentity `json:"identity"`
}

// PromptIdentity is the logical identity of a prompt, from which the cache
// key is derived. Two prompts with equal identity memoize to the same entry.
type PromptIdentity struct {
	Entity    string    `json:"entity"`
	Dimension string    `json:"dimension"` // analysis dimension, e.g. queue name
	Strategy  string    `json:"strategy"`
	AsOf      time.Time `json:"as_of"`
}

// Completion is the black-box model output for a prompt.
type Completion struct {
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	Model     string `json:"model"`
	LatencyMS int64  `json:"latency_ms"`
}

// RiskLevel is the coarse risk classification in a structured model answer.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AnalysisResult is the structured answer schema the skeleton prompt
// instructs the model to return. This is also the cached value type.
type AnalysisResult struct {
	StrategyRecommendation string    `json:"strategy_recommendation"`
	ConfidenceScore        float64   `json:"confidence_score"`
	RiskAssessment         RiskLevel `json:"risk_assessment"`
	ExecutionPriority      int       `json:"execution_priority"`
	KeyInsights            []string  `json:"key_insights"`
	NextActions            []string  `json:"next_actions"`
}

// RoutedResult is what callers receive from the router: the analysis plus
// provenance metadata. There is no silent partial success.
type RoutedResult struct {
	Result       *AnalysisResult `json:"result"`
	TierUsed     TierID          `json:"tier_used"`
	CacheHit     bool            `json:"cache_hit"`
	CostEstimate float64         `json:"cost_estimate"`
	LatencyMS    int64           `json:"latency_ms"`
	Decision     RoutingDecision `json:"decision"`

	// SynthesisScore is the post-routing weighted score; zero when the
	// risk veto fired or synthesis is disabled.
	SynthesisScore float64 `json:"synthesis_score,omitempty"`
}
