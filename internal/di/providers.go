package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
	"InferCore/internal/handler/api"
	internalrepo "InferCore/internal/repository"
	"InferCore/internal/service/cache"
	"InferCore/internal/service/feed"
	"InferCore/internal/service/ratelimit"
	"InferCore/internal/service/tiers"
	"InferCore/internal/services/compressor"
	"InferCore/internal/services/features"
	"InferCore/internal/services/router"
	"InferCore/internal/usecase"
	pkgch "InferCore/pkg/clickhouse"
	"InferCore/pkg/config"
	pkgkafka "InferCore/pkg/kafka"
	"InferCore/pkg/logger"
	"InferCore/pkg/metrics"
	"InferCore/pkg/server"
)

// InitializeApp wires the full dependency graph and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	log, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	met := ProvideMetrics()

	rdb := ProvideRedisClient(cfg)
	queue := internalrepo.NewRedisEventQueue(rdb, cfg.Redis.Prefix)
	cacheEngine := ProvideCacheEngine(cfg, rdb, log)

	vectorStore := features.NewVectorStore(cfg.Features.Staleness)
	featureEngine := ProvideFeatureEngine(cfg, vectorStore, log)

	promptRouter := ProvideRouter(cfg, cacheEngine, met, log)
	aggregator := ProvideAggregator(cfg, queue, met, log)

	sink, err := ProvideResultSink(cfg)
	if err != nil {
		return nil, err
	}
	chClient, archive, err := ProvideArchive(cfg)
	if err != nil {
		return nil, err
	}

	pipeline := ProvidePipeline(cfg, queue, promptRouter, featureEngine, sink, archive, met, log)
	analyzer := usecase.NewAnalyzer(promptRouter, vectorStore)
	handler := api.NewHandler(aggregator, analyzer, cacheEngine, featureEngine, log)

	return server.New(server.Deps{
		Config:      cfg,
		Log:         log,
		Handler:     handler,
		Metrics:     met,
		Aggregator:  aggregator,
		Pipeline:    pipeline,
		Features:    featureEngine,
		Feed:        ProvideFeed(cfg, log),
		CacheEngine: cacheEngine,
		Queue:       queue,
		Sink:        sink,
		Archive:     archive,
		ClickHouse:  chClient,
	}), nil
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideRedisClient creates the shared redis client.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideCacheEngine creates the result cache over redis.
func ProvideCacheEngine(cfg *config.Config, rdb *redis.Client, log *logger.Logger) *cache.Engine {
	store := cache.NewRedisStore(rdb)
	return cache.NewEngine(store, cache.Config{
		DefaultTTL:      cfg.Cache.DefaultTTL,
		MemoryBudget:    cfg.Cache.MemoryBudgetMB << 20,
		MinHitRate:      cfg.Cache.MinHitRate,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, log)
}

// ProvideFeatureEngine creates the indicator engine.
func ProvideFeatureEngine(cfg *config.Config, store *features.VectorStore, log *logger.Logger) *features.Engine {
	return features.NewEngine(features.Options{
		Workers:    cfg.Features.Workers,
		EMAPeriods: cfg.Features.EMAPeriods,
		RSIPeriod:  cfg.Features.RSIPeriod,
		MACDFast:   cfg.Features.MACDFast,
		MACDSlow:   cfg.Features.MACDSlow,
		MACDSignal: cfg.Features.MACDSignal,
		Cadence:    cfg.Features.Cadence,
	}, store, log)
}

// ProvideRouter creates the model router with its tier clients.
func ProvideRouter(cfg *config.Config, cacheEngine *cache.Engine, met drepo.Metrics, log *logger.Logger) *router.Router {
	profiles := make([]models.TierProfile, 0, len(cfg.Router.Tiers))
	clients := make(map[models.TierID]drepo.TierClient, len(cfg.Router.Tiers))
	for _, tc := range cfg.Router.Tiers {
		profile := models.TierProfile{
			ID:               models.TierID(tc.ID),
			Model:            tc.Model,
			CostPer1KTokens:  tc.CostPer1KTokens,
			TypicalLatencyMS: tc.TypicalLatencyMS,
			CapabilityScore:  tc.CapabilityScore,
			MaxTokens:        tc.MaxTokens,
			Timeout:          tc.Timeout,
			RateLimitRPM:     tc.RateLimitRPM,
		}
		profiles = append(profiles, profile)
		clients[profile.ID] = tiers.NewHTTPClient(profile, tc.Endpoint, tc.APIKeyEnv)
	}

	return router.New(profiles, clients, cacheEngine, ratelimit.New(), met, log, router.Options{
		MaxAttempts:    cfg.Router.MaxAttempts,
		BackoffBase:    cfg.Router.BackoffBase,
		BackoffMax:     cfg.Router.BackoffMax,
		BreakerTrips:   cfg.Router.BreakerTrips,
		BreakerCooloff: cfg.Router.BreakerCooloff,
		DailyBudgetUSD: cfg.Router.DailyBudgetUSD,
		TimeBucket:     cfg.Cache.TimeBucket,
		CacheTTL:       cfg.Cache.DefaultTTL,
		MinConfidence:  cfg.Cache.MinConfidence,
	})
}

// ProvideAggregator creates the batch aggregator.
func ProvideAggregator(cfg *config.Config, queue drepo.EventQueue, met drepo.Metrics, log *logger.Logger) *usecase.BatchAggregator {
	return usecase.NewBatchAggregator(queue, met, log, usecase.AggregatorOptions{
		MaxBatchSize: cfg.Aggregator.MaxBatchSize,
		FastTimeout:  cfg.Aggregator.FastTimeout,
		SlowTimeout:  cfg.Aggregator.SlowTimeout,
		FastWindow:   cfg.Aggregator.FastWindow,
		PollInterval: cfg.Aggregator.PollInterval,
	})
}

// ProvideResultSink creates the kafka sink, or a no-op when kafka is
// disabled.
func ProvideResultSink(cfg *config.Config) (drepo.ResultSink, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopResultSink{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaResultSink(producer, cfg.Kafka.ResultsTopic), nil
}

// ProvideArchive creates the clickhouse archive, or a no-op when clickhouse
// is disabled. Schema init runs here so the pipeline never races a missing
// table.
func ProvideArchive(cfg *config.Config) (*pkgch.Client, drepo.ResultArchive, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, internalrepo.NopResultArchive{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, internalrepo.NewClickHouseArchive(client.DB(), cfg.ClickHouse.Database), nil
}

// ProvidePipeline creates the dispatch pipeline. The fast queue trades
// capability for latency; the slow queue does the opposite.
func ProvidePipeline(
	cfg *config.Config,
	queue drepo.EventQueue,
	promptRouter *router.Router,
	featureEngine *features.Engine,
	sink drepo.ResultSink,
	archive drepo.ResultArchive,
	met drepo.Metrics,
	log *logger.Logger,
) *usecase.Pipeline {
	synth := usecase.NewSynthesizer(usecase.SynthesisOptions{
		Enabled:           cfg.Synthesis.Enabled,
		Weights:           cfg.Synthesis.Weights,
		RiskVetoThreshold: cfg.Synthesis.RiskVetoThreshold,
	})
	comp := compressor.New()
	return usecase.NewPipeline(queue, comp, promptRouter, featureEngine, synth, sink, archive, met, log,
		usecase.PipelineOptions{
			PollInterval:    cfg.Aggregator.PollInterval,
			DispatchLimit:   cfg.Router.DispatchLimit,
			FastRequirement: models.QualityRequirement{MaxLatencyMS: 2000, MinCapability: 0.3},
			SlowRequirement: models.QualityRequirement{MinCapability: 0.6},
		})
}

// ProvideFeed creates the optional upstream websocket feed.
func ProvideFeed(cfg *config.Config, log *logger.Logger) *feed.Client {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(cfg.Feed.URL, cfg.Feed.Token, cfg.Feed.Topics,
		cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, log)
}
