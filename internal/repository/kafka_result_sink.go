package repository

import (
	"context"
	"fmt"

	"InferCore/internal/domain/models"
	drepo "InferCore/internal/domain/repository"
	pkgkafka "InferCore/pkg/kafka"
)

// KafkaResultSink publishes routed results for downstream consumers
// (dashboards, the trading engine's feedback loop). Keyed by batch id so one
// batch's results land on one partition in order.
type KafkaResultSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaResultSink(producer *pkgkafka.Producer, topic string) drepo.ResultSink {
	return &KafkaResultSink{producer: producer, topic: topic}
}

func (s *KafkaResultSink) Publish(ctx context.Context, batchID string, res *models.RoutedResult) error {
	payload := map[string]interface{}{
		"batch_id":        batchID,
		"tier_used":       res.TierUsed,
		"cache_hit":       res.CacheHit,
		"cost_estimate":   res.CostEstimate,
		"latency_ms":      res.LatencyMS,
		"synthesis_score": res.SynthesisScore,
		"result":          res.Result,
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(batchID), payload); err != nil {
		return fmt.Errorf("result sink publish: %w", err)
	}
	return nil
}

func (s *KafkaResultSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// NopResultSink is used when kafka is disabled.
type NopResultSink struct{}

func (NopResultSink) Publish(context.Context, string, *models.RoutedResult) error { return nil }
func (NopResultSink) Close() error                                                { return nil }
