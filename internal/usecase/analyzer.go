package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"InferCore/internal/domain/models"
	"InferCore/internal/domain/repository"
)

// Analyzer serves ad-hoc analysis requests outside the batch path: one
// entity, one prompt, routed with the caller's quality requirement. Repeated
// requests for the same entity inside a time bucket resolve from cache.
type Analyzer struct {
	router   PromptRouter
	features repository.FeatureStore
	now      func() time.Time
}

func NewAnalyzer(promptRouter PromptRouter, features repository.FeatureStore) *Analyzer {
	return &Analyzer{router: promptRouter, features: features, now: time.Now}
}

// Analyze builds a single-entity prompt and routes it.
func (a *Analyzer) Analyze(ctx context.Context, req *models.AnalyzeRequest) (*models.RoutedResult, error) {
	now := a.now().UTC()
	skeleton := a.renderSkeleton(req, now)

	prompt := &models.CompressedPrompt{
		BatchID:         "adhoc",
		Skeleton:        skeleton,
		EstimatedTokens: (len(skeleton) + 3) / 4,
		EventCount:      0,
		Identity: models.PromptIdentity{
			Entity:    req.Entity,
			Dimension: req.Dimension,
			Strategy:  req.Strategy,
			AsOf:      now,
		},
	}

	return a.router.Route(ctx, prompt, models.QualityRequirement{
		MaxLatencyMS:  req.MaxLatencyMS,
		MinCapability: req.MinCapability,
	})
}

func (a *Analyzer) renderSkeleton(req *models.AnalyzeRequest, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a trading analysis engine. Assess %s on the %s dimension for the %s strategy as of %s.\n",
		req.Entity, req.Dimension, req.Strategy, now.Format(time.RFC3339))

	if v, ok := a.features.Latest(req.Entity); ok {
		names := make([]string, 0, len(v.Indicators))
		for name := range v.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("Current indicators:")
		for _, name := range names {
			fmt.Fprintf(&sb, " %s=%.4f", name, v.Indicators[name])
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No feature vector is available for this entity.\n")
	}

	sb.WriteString(`Respond with a single JSON object and nothing else:
{"strategy_recommendation": string, "confidence_score": number 0..1,
 "risk_assessment": "low"|"medium"|"high", "execution_priority": integer 1..10,
 "key_insights": [string], "next_actions": [string]}
`)
	return sb.String()
}
