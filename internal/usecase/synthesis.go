package usecase

import "InferCore/internal/domain/models"

// SynthesisOptions configure result scoring. Weights blend the normalized
// signal components; missing weights default to an even split.
type SynthesisOptions struct {
	Enabled           bool
	Weights           map[string]float64 // confidence, priority, risk
	RiskVetoThreshold float64            // high-risk results below this confidence score zero
}

// Synthesizer folds a structured analysis into a single actionability score
// in [0, 1]. The trading engine consumes the score as a dispatch priority.
type Synthesizer struct {
	opts SynthesisOptions
}

func NewSynthesizer(opts SynthesisOptions) *Synthesizer {
	if len(opts.Weights) == 0 {
		opts.Weights = map[string]float64{"confidence": 0.5, "priority": 0.25, "risk": 0.25}
	}
	return &Synthesizer{opts: opts}
}

// Score computes the weighted score, applying the risk veto first: a
// high-risk call the model is not confident about is worth nothing.
func (s *Synthesizer) Score(res *models.AnalysisResult) float64 {
	if !s.opts.Enabled || res == nil {
		return 0
	}
	if res.RiskAssessment == models.RiskHigh && res.ConfidenceScore < s.opts.RiskVetoThreshold {
		return 0
	}

	confidence := clamp01(res.ConfidenceScore)
	priority := clamp01(float64(res.ExecutionPriority) / 10)
	risk := riskFactor(res.RiskAssessment)

	w := s.opts.Weights
	total := w["confidence"] + w["priority"] + w["risk"]
	if total <= 0 {
		return 0
	}
	score := (w["confidence"]*confidence + w["priority"]*priority + w["risk"]*risk) / total
	return clamp01(score)
}

func riskFactor(r models.RiskLevel) float64 {
	switch r {
	case models.RiskLow:
		return 1
	case models.RiskMedium:
		return 0.5
	case models.RiskHigh:
		return 0.1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
