package repository

import (
	"context"
	"database/sql"
	"time"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
)

// Schema returns the idempotent DDL for the archive tables.
func Schema(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		`CREATE TABLE IF NOT EXISTS ` + database + `.batches (
			batch_id         String,
			queue            LowCardinality(String),
			window_start     DateTime64(3),
			window_end       DateTime64(3),
			sealed_at        DateTime64(3),
			event_count      UInt32,
			total_volume_sol Float64,
			total_profit_sol Float64,
			success_rate     Float64,
			unique_wallets   UInt32,
			unique_tokens    UInt32
		) ENGINE = MergeTree() ORDER BY (queue, sealed_at)`,
		`CREATE TABLE IF NOT EXISTS ` + database + `.results (
			batch_id                String,
			tier_used               LowCardinality(String),
			cache_hit               UInt8,
			cost_estimate           Float64,
			latency_ms              Int64,
			synthesis_score         Float64,
			strategy_recommendation String,
			confidence_score        Float64,
			risk_assessment         LowCardinality(String),
			execution_priority      UInt8,
			created_at              DateTime64(3)
		) ENGINE = MergeTree() ORDER BY (created_at, batch_id)`,
	}
}

// ClickHouseArchive persists dispatched batches and results for historical
// analysis. Write-only from the pipeline's point of view.
type ClickHouseArchive struct {
	db       *sql.DB
	database string
}

func NewClickHouseArchive(db *sql.DB, database string) drepo.ResultArchive {
	return &ClickHouseArchive{db: db, database: database}
}

func (a *ClickHouseArchive) ArchiveBatch(ctx context.Context, b *models.Batch) error {
	stats := b.Stats
	if stats == nil {
		stats = models.ComputeBatchStats(b.Records)
	}
	q := `INSERT INTO ` + a.database + `.batches
		(batch_id, queue, window_start, window_end, sealed_at, event_count,
		 total_volume_sol, total_profit_sol, success_rate, unique_wallets, unique_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, q,
		b.ID,
		string(b.Queue),
		b.WindowStart,
		b.WindowEnd,
		b.SealedAt,
		uint32(len(b.Records)),
		stats.TotalVolumeSOL,
		stats.TotalProfitSOL,
		stats.SuccessRate,
		uint32(stats.UniqueWallets),
		uint32(stats.UniqueTokens),
	)
	return err
}

func (a *ClickHouseArchive) ArchiveResult(ctx context.Context, batchID string, res *models.RoutedResult) error {
	cacheHit := uint8(0)
	if res.CacheHit {
		cacheHit = 1
	}
	q := `INSERT INTO ` + a.database + `.results
		(batch_id, tier_used, cache_hit, cost_estimate, latency_ms, synthesis_score,
		 strategy_recommendation, confidence_score, risk_assessment, execution_priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, q,
		batchID,
		string(res.TierUsed),
		cacheHit,
		res.CostEstimate,
		res.LatencyMS,
		res.SynthesisScore,
		res.Result.StrategyRecommendation,
		res.Result.ConfidenceScore,
		string(res.Result.RiskAssessment),
		uint8(res.Result.ExecutionPriority),
		time.Now().UTC(),
	)
	return err
}

func (a *ClickHouseArchive) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

// NopResultArchive is used when clickhouse is disabled.
type NopResultArchive struct{}

func (NopResultArchive) ArchiveBatch(context.Context, *models.Batch) error { return nil }
func (NopResultArchive) ArchiveResult(context.Context, string, *models.RoutedResult) error {
	return nil
}
func (NopResultArchive) Close() error { return nil }
