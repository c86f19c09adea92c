package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"InferCore/internal/domain/models"
	"InferCore/internal/domain/repository"
	"InferCore/internal/service/cache"
	"InferCore/internal/service/ratelimit"
	"InferCore/pkg/logger"
)

// Options tune routing behavior.
type Options struct {
	MaxAttempts    int           // per-tier dispatch attempts
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BreakerTrips   int
	BreakerCooloff time.Duration
	DailyBudgetUSD float64 // 0 = unlimited
	TimeBucket     time.Duration
	CacheTTL       time.Duration
	MinConfidence  float64 // results below this are not cached
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
	if o.TimeBucket <= 0 {
		o.TimeBucket = 5 * time.Minute
	}
}

// spendTracker accumulates dispatch cost per UTC day.
type spendTracker struct {
	mu  sync.Mutex
	day string
	usd float64
	now func() time.Time
}

func (s *spendTracker) add(usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll()
	s.usd += usd
}

func (s *spendTracker) today() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll()
	return s.usd
}

func (s *spendTracker) roll() {
	day := s.now().UTC().Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.usd = 0
	}
}

// Router sends compressed prompts to the cheapest model tier that satisfies
// the request's quality requirement, memoizing results through the cache
// engine. Concurrent requests for the same cache identity collapse into a
// single upstream dispatch.
type Router struct {
	tiers   []models.TierProfile // sorted ascending by cost
	clients map[models.TierID]repository.TierClient
	cache   *cache.Engine
	limiter *ratelimit.Limiter
	brk     *breaker
	metrics repository.Metrics
	log     *logger.Logger
	opts    Options
	spend   spendTracker
	sf      singleflight.Group
}

func New(
	tiers []models.TierProfile,
	clients map[models.TierID]repository.TierClient,
	cacheEngine *cache.Engine,
	limiter *ratelimit.Limiter,
	metrics repository.Metrics,
	log *logger.Logger,
	opts Options,
) *Router {
	opts.normalize()
	sorted := make([]models.TierProfile, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CostPer1KTokens < sorted[j].CostPer1KTokens
	})
	return &Router{
		tiers:   sorted,
		clients: clients,
		cache:   cacheEngine,
		limiter: limiter,
		brk:     newBreaker(opts.BreakerTrips, opts.BreakerCooloff),
		metrics: metrics,
		log:     log,
		opts:    opts,
		spend:   spendTracker{now: time.Now},
	}
}

// Route resolves a prompt to an analysis result, cache first. Cache failures
// never fail the request: an unreachable cache reads as a miss and skips the
// write-back.
func (r *Router) Route(ctx context.Context, prompt *models.CompressedPrompt, req models.QualityRequirement) (*models.RoutedResult, error) {
	key := cache.NewKey(prompt.Identity, r.opts.TimeBucket)

	if res, ok := r.fromCache(ctx, key); ok {
		return res, nil
	}

	// Identical identities arriving concurrently share one dispatch.
	v, err, shared := r.sf.Do(key.String(), func() (interface{}, error) {
		if res, ok := r.fromCache(ctx, key); ok {
			return res, nil
		}
		return r.dispatch(ctx, prompt, req, key)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*models.RoutedResult)
	if shared && !res.CacheHit {
		r.metrics.RecordRequest(string(res.TierUsed), true)
	}
	return res, nil
}

func (r *Router) fromCache(ctx context.Context, key cache.Key) (*models.RoutedResult, bool) {
	entry, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(entry.Value, &result); err != nil {
		r.log.Warn("cached result undecodable, treating as miss",
			logger.String("key", key.String()), logger.Error(err))
		_ = r.cache.Invalidate(ctx, key)
		return nil, false
	}
	r.metrics.RecordRequest("cache", true)
	return &models.RoutedResult{
		Result:   &result,
		CacheHit: true,
		Decision: models.RoutingDecision{Reason: "cache_hit", CacheHit: true},
	}, true
}

// dispatch walks eligible tiers cheapest-first, retrying each with
// exponential backoff before moving on.
func (r *Router) dispatch(ctx context.Context, prompt *models.CompressedPrompt, req models.QualityRequirement, key cache.Key) (*models.RoutedResult, error) {
	candidates := r.eligible(req)
	if len(candidates) == 0 {
		r.metrics.RecordError("no_tier_available")
		return nil, ErrNoTierAvailable
	}

	attempts := 0
	var lastErr error
	var lastTier models.TierID

	for _, tier := range candidates {
		client, ok := r.clients[tier.ID]
		if !ok {
			continue
		}
		if !r.brk.allow(tier.ID) {
			r.log.Debug("tier skipped, breaker open", logger.String("tier", string(tier.ID)))
			continue
		}
		if !r.limiter.AllowRPM(string(tier.ID), tier.RateLimitRPM) {
			r.log.Debug("tier skipped, rate limited", logger.String("tier", string(tier.ID)))
			continue
		}

		res, err := r.tryTier(ctx, client, &tier, prompt, req)
		attempts += r.opts.MaxAttempts
		lastTier = tier.ID
		if err != nil {
			lastErr = err
			r.brk.failure(tier.ID)
			r.metrics.RecordError("tier_dispatch")
			r.log.Warn("tier exhausted, falling through",
				logger.String("tier", string(tier.ID)),
				logger.String("batch_id", prompt.BatchID),
				logger.Error(err))
			continue
		}

		r.brk.success(tier.ID)
		r.spend.add(res.CostEstimate)
		r.metrics.RecordRequest(string(tier.ID), false)
		r.metrics.RecordCost(string(tier.ID), res.CostEstimate)
		r.writeBack(ctx, key, res)
		return res, nil
	}

	if lastErr == nil {
		r.metrics.RecordError("no_tier_available")
		return nil, ErrNoTierAvailable
	}
	return nil, &TierExhaustedError{
		BatchID:  prompt.BatchID,
		Attempts: attempts,
		LastTier: lastTier,
		Err:      lastErr,
	}
}

// eligible filters and orders tiers for one request. Tiers are already
// cost-sorted; once the daily budget is spent only the cheapest tier remains
// in play.
func (r *Router) eligible(req models.QualityRequirement) []models.TierProfile {
	overBudget := r.opts.DailyBudgetUSD > 0 && r.spend.today() >= r.opts.DailyBudgetUSD

	out := make([]models.TierProfile, 0, len(r.tiers))
	for _, t := range r.tiers {
		if req.MinCapability > 0 && t.CapabilityScore < req.MinCapability {
			continue
		}
		if req.MaxLatencyMS > 0 && t.TypicalLatencyMS > req.MaxLatencyMS {
			continue
		}
		out = append(out, t)
		if overBudget {
			// Cheapest survivor only.
			return out[:1]
		}
	}
	return out
}

// tryTier attempts one tier up to MaxAttempts times with exponential backoff.
func (r *Router) tryTier(ctx context.Context, client repository.TierClient, tier *models.TierProfile, prompt *models.CompressedPrompt, req models.QualityRequirement) (*models.RoutedResult, error) {
	backoff := r.opts.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.opts.BackoffMax {
				backoff = r.opts.BackoffMax
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if timeout := callTimeout(tier, req); timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		started := time.Now()
		completion, err := client.Complete(callCtx, prompt)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		result, err := parseAnalysis(completion.Text)
		if err != nil {
			lastErr = fmt.Errorf("tier %s returned malformed analysis: %w", tier.ID, err)
			continue
		}

		latency := time.Since(started)
		r.metrics.RecordLatency("tier_complete", latency)
		return &models.RoutedResult{
			Result:       result,
			TierUsed:     tier.ID,
			CostEstimate: tier.EstimateCost(prompt.EstimatedTokens + completion.Tokens),
			LatencyMS:    latency.Milliseconds(),
			Decision: models.RoutingDecision{
				ChosenTier:    tier.ID,
				Reason:        "cheapest_eligible",
				EstimatedCost: tier.EstimateCost(prompt.EstimatedTokens),
			},
		}, nil
	}
	return nil, fmt.Errorf("tier %s failed after %d attempts: %w", tier.ID, r.opts.MaxAttempts, lastErr)
}

// callTimeout bounds a single upstream call to the tighter of the tier's
// configured timeout and the request's latency budget. A stalled model call
// must never block the caller past what it asked for.
func callTimeout(tier *models.TierProfile, req models.QualityRequirement) time.Duration {
	timeout := tier.Timeout
	if req.MaxLatencyMS > 0 {
		budget := time.Duration(req.MaxLatencyMS) * time.Millisecond
		if timeout <= 0 || budget < timeout {
			timeout = budget
		}
	}
	return timeout
}

// writeBack memoizes a successful result. Low-confidence answers are not
// worth caching; cache write errors are logged and dropped.
func (r *Router) writeBack(ctx context.Context, key cache.Key, res *models.RoutedResult) {
	if res.Result == nil || res.Result.ConfidenceScore < r.opts.MinConfidence {
		return
	}
	if err := r.cache.Set(ctx, key, res.Result, res.Result.ConfidenceScore, r.opts.CacheTTL); err != nil {
		r.log.Warn("cache write-back failed", logger.String("key", key.String()), logger.Error(err))
	}
}

// SpentToday reports accumulated dispatch cost for the current UTC day.
func (r *Router) SpentToday() float64 {
	return r.spend.today()
}

func parseAnalysis(text string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, err
	}
	if result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidence_score %v out of range", result.ConfidenceScore)
	}
	switch result.RiskAssessment {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		return nil, fmt.Errorf("unknown risk_assessment %q", result.RiskAssessment)
	}
	if result.ExecutionPriority < 1 || result.ExecutionPriority > 10 {
		return nil, fmt.Errorf("execution_priority %d out of range", result.ExecutionPriority)
	}
	return &result, nil
}
