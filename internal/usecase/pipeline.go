package usecase

import (
	"context"
	"sync"
	"time"

	"InferCore/internal/domain/models"
	"InferCore/internal/domain/repository"
	"InferCore/pkg/logger"
)

// Compressor converts sealed batches into prompts.
type Compressor interface {
	Compress(b *models.Batch) (*models.CompressedPrompt, error)
}

// PromptRouter resolves prompts to analysis results.
type PromptRouter interface {
	Route(ctx context.Context, prompt *models.CompressedPrompt, req models.QualityRequirement) (*models.RoutedResult, error)
}

// FeatureAnnotator attaches the latest feature vectors to batch records.
type FeatureAnnotator interface {
	Annotate(records []*models.Event) int
}

// PipelineOptions tune dispatch behavior.
type PipelineOptions struct {
	PollInterval    time.Duration
	DispatchLimit   int // concurrent batch dispatches
	FastRequirement models.QualityRequirement
	SlowRequirement models.QualityRequirement
}

func (o *PipelineOptions) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.DispatchLimit <= 0 {
		o.DispatchLimit = 4
	}
}

// Pipeline drains sealed batches and drives them through compression,
// routing, synthesis and publication. Fast-queue batches are always drained
// before slow ones.
type Pipeline struct {
	store      repository.EventQueue
	compressor Compressor
	router     PromptRouter
	features   FeatureAnnotator
	synth      *Synthesizer
	sink       repository.ResultSink
	archive    repository.ResultArchive
	metrics    repository.Metrics
	log        *logger.Logger
	opts       PipelineOptions
}

func NewPipeline(
	store repository.EventQueue,
	compressor Compressor,
	promptRouter PromptRouter,
	features FeatureAnnotator,
	synth *Synthesizer,
	sink repository.ResultSink,
	archive repository.ResultArchive,
	metrics repository.Metrics,
	log *logger.Logger,
	opts PipelineOptions,
) *Pipeline {
	opts.normalize()
	return &Pipeline{
		store:      store,
		compressor: compressor,
		router:     promptRouter,
		features:   features,
		synth:      synth,
		sink:       sink,
		archive:    archive,
		metrics:    metrics,
		log:        log,
		opts:       opts,
	}
}

// Run drains sealed batches until the context is cancelled, then waits for
// in-flight dispatches to finish.
func (p *Pipeline) Run(ctx context.Context) error {
	sem := make(chan struct{}, p.opts.DispatchLimit)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		b, err := p.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("pop sealed batch failed", logger.Error(err))
			p.metrics.RecordError("pop_sealed")
		}
		if b == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			// Context gone before dispatch; process inline so the popped
			// batch is not dropped.
			p.Process(context.Background(), b)
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(b *models.Batch) {
			defer wg.Done()
			defer func() { <-sem }()
			p.Process(ctx, b)
		}(b)
	}
}

// next pops the oldest sealed batch, fast queue first.
func (p *Pipeline) next(ctx context.Context) (*models.Batch, error) {
	b, err := p.store.PopSealed(ctx, models.QueueFast)
	if err != nil || b != nil {
		return b, err
	}
	return p.store.PopSealed(ctx, models.QueueSlow)
}

// Process runs one sealed batch end to end. Failures are terminal for the
// batch: logged, counted, never retried here.
func (p *Pipeline) Process(ctx context.Context, b *models.Batch) {
	started := time.Now()
	b.Status = models.BatchCompressing

	if n := p.features.Annotate(b.Records); n > 0 {
		p.log.Debug("features attached", logger.String("batch_id", b.ID), logger.Int("count", n))
	}

	prompt, err := p.compressor.Compress(b)
	if err != nil {
		b.Status = models.BatchFailed
		p.metrics.RecordError("compress")
		p.log.Error("batch compression failed", logger.String("batch_id", b.ID), logger.Error(err))
		return
	}

	res, err := p.router.Route(ctx, prompt, p.requirementFor(b.Queue))
	if err != nil {
		b.Status = models.BatchFailed
		p.metrics.RecordError("route")
		p.log.Error("batch routing failed",
			logger.String("batch_id", b.ID),
			logger.String("queue", string(b.Queue)),
			logger.Error(err))
		return
	}
	res.SynthesisScore = p.synth.Score(res.Result)
	b.Status = models.BatchDispatched

	// Downstream publication and archival are best effort; the analysis
	// itself already succeeded.
	if err := p.sink.Publish(ctx, b.ID, res); err != nil {
		p.metrics.RecordError("publish")
		p.log.Warn("result publish failed", logger.String("batch_id", b.ID), logger.Error(err))
	}
	if err := p.archive.ArchiveBatch(ctx, b); err != nil {
		p.metrics.RecordError("archive")
		p.log.Warn("batch archive failed", logger.String("batch_id", b.ID), logger.Error(err))
	}
	if err := p.archive.ArchiveResult(ctx, b.ID, res); err != nil {
		p.metrics.RecordError("archive")
		p.log.Warn("result archive failed", logger.String("batch_id", b.ID), logger.Error(err))
	}

	p.metrics.RecordLatency("pipeline_process", time.Since(started))
	p.log.Info("batch dispatched",
		logger.String("batch_id", b.ID),
		logger.String("queue", string(b.Queue)),
		logger.String("tier", string(res.TierUsed)),
		logger.Bool("cache_hit", res.CacheHit),
		logger.Float64("cost_usd", res.CostEstimate),
		logger.Float64("synthesis_score", res.SynthesisScore),
		logger.Int64("latency_ms", res.LatencyMS))
}

func (p *Pipeline) requirementFor(queue models.QueueName) models.QualityRequirement {
	if queue == models.QueueFast {
		return p.opts.FastRequirement
	}
	return p.opts.SlowRequirement
}
