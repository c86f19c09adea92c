package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks a batch through the pipeline.
type BatchStatus string

const (
	BatchOpen        BatchStatus = "open"
	BatchSealed      BatchStatus = "sealed"
	BatchCompressing BatchStatus = "compressing"
	BatchDispatched  BatchStatus = "dispatched"
	BatchFailed      BatchStatus = "failed"
)

// QueueName identifies the logical aggregation queue a batch belongs to.
type QueueName string

const (
	QueueFast QueueName = "fast"
	QueueSlow QueueName = "slow"
)

// Batch is an ordered, append-only collection of events sharing a window.
// Owned by the aggregator until sealed and handed downstream; no appends
// after sealing.
type Batch struct {
	ID          string      `json:"batch_id"`
	Queue       QueueName   `json:"queue"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Records     []*Event    `json:"records"`
	Status      BatchStatus `json:"status"`
	Stats       *BatchStats `json:"stats,omitempty"`
	SealedAt    time.Time   `json:"sealed_at,omitempty"`
}

// NewBatch opens an empty batch for a queue.
func NewBatch(queue QueueName, windowStart time.Time) *Batch {
	return &Batch{
		ID:          uuid.NewString(),
		Queue:       queue,
		WindowStart: windowStart,
		Status:      BatchOpen,
	}
}

// Append adds an event; returns false once the batch is no longer open.
func (b *Batch) Append(e *Event) bool {
	if b.Status != BatchOpen {
		return false
	}
	b.Records = append(b.Records, e)
	return true
}

// Seal transitions the batch to sealed and computes its summary stats.
// Sealing is idempotent.
func (b *Batch) Seal(now time.Time) {
	if b.Status != BatchOpen {
		return
	}
	b.Status = BatchSealed
	b.SealedAt = now
	b.WindowEnd = now
	if len(b.Records) > 0 {
		b.WindowEnd = b.Records[len(b.Records)-1].Timestamp
	}
	b.Stats = ComputeBatchStats(b.Records)
}

// BatchStats summarizes a sealed batch; paired with the compressed payload so
// the model sees aggregates without decoding every record.
type BatchStats struct {
	TotalVolumeSOL     float64        `json:"total_volume_sol"`
	TotalProfitSOL     float64        `json:"total_profit_sol"`
	SuccessRate        float64        `json:"success_rate"`
	AvgExecutionTimeMS float64        `json:"avg_execution_time_ms"`
	UniqueWallets      int            `json:"unique_wallets"`
	UniqueTokens       int            `json:"unique_tokens"`
	StrategyCounts     map[string]int `json:"strategy_counts"`
}

// ComputeBatchStats aggregates trade-level statistics across records.
// Non-trade events contribute only to token cardinality.
func ComputeBatchStats(records []*Event) *BatchStats {
	stats := &BatchStats{StrategyCounts: make(map[string]int)}
	wallets := make(map[string]struct{})
	tokens := make(map[string]struct{})

	trades := 0
	successes := 0
	var totalExec int64

	for _, e := range records {
		if e.Payload == nil {
			continue
		}
		if s := e.Payload.Subject(); s != "" {
			tokens[s] = struct{}{}
		}
		switch p := e.Payload.(type) {
		case *TradePayload:
			trades++
			stats.TotalVolumeSOL += p.AmountSOL
			stats.TotalProfitSOL += p.ProfitSOL
			totalExec += p.ExecutionTimeMS
			if p.Success {
				successes++
			}
			wallets[p.Wallet] = struct{}{}
			stats.StrategyCounts[p.Strategy]++
		case *OpportunityPayload:
			stats.StrategyCounts[p.Strategy]++
		}
	}

	if trades > 0 {
		stats.SuccessRate = float64(successes) / float64(trades)
		stats.AvgExecutionTimeMS = float64(totalExec) / float64(trades)
	}
	stats.UniqueWallets = len(wallets)
	stats.UniqueTokens = len(tokens)
	return stats
}

// DominantSubject returns the most frequent subject across records, used as
// the entity component of the cache identity.
func (b *Batch) DominantSubject() string {
	counts := make(map[string]int)
	best := ""
	for _, e := range b.Records {
		s := e.Subject()
		if s == "" {
			continue
		}
		counts[s]++
		if best == "" || counts[s] > counts[best] {
			best = s
		}
	}
	return best
}

// DominantStrategy returns the most frequent strategy label, or "mixed".
func (b *Batch) DominantStrategy() string {
	if b.Stats == nil || len(b.Stats.StrategyCounts) == 0 {
		return "mixed"
	}
	best, n := "mixed", 0
	for s, c := range b.Stats.StrategyCounts {
		if c > n {
			best, n = s, c
		}
	}
	return best
}
