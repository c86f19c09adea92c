package compressor

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"InferCore/internal/domain/models"
)

// CompressionError wraps failures during batch-to-prompt conversion. An empty
// batch is a caller bug, not an operational condition.
type CompressionError struct {
	BatchID string
	Reason  string
	Err     error
}

func (e *CompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compress batch %s: %s: %v", e.BatchID, e.Reason, e.Err)
	}
	return fmt.Sprintf("compress batch %s: %s", e.BatchID, e.Reason)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// skeletonTemplate is the fixed instruction scaffold shared by every prompt.
// Its token cost is constant regardless of batch size, which is what makes
// large batches cheap relative to per-event prompting.
const skeletonTemplate = `You are a trading analysis engine. A batch of market events is attached as a
base64 binary payload after the summary line. Decode is not required: use the
summary statistics and feature indicators below to produce your assessment.

Batch %s | queue=%s | window %s .. %s | events=%d
Stats: volume=%.4f SOL profit=%.4f SOL success_rate=%.3f avg_exec_ms=%.1f wallets=%d tokens=%d
Dominant: subject=%s strategy=%s
%s
Respond with a single JSON object and nothing else:
{"strategy_recommendation": string, "confidence_score": number 0..1,
 "risk_assessment": "low"|"medium"|"high", "execution_priority": integer 1..10,
 "key_insights": [string], "next_actions": [string]}

PAYLOAD:
`

// Compressor converts sealed batches into compact prompts and back. It is
// stateless and safe for concurrent use.
type Compressor struct{}

func New() *Compressor { return &Compressor{} }

// Compress renders the skeleton, binary-encodes the batch records and wraps
// the result into a CompressedPrompt. Record order is preserved exactly.
func (c *Compressor) Compress(batch *models.Batch) (*models.CompressedPrompt, error) {
	if batch == nil || len(batch.Records) == 0 {
		id := ""
		if batch != nil {
			id = batch.ID
		}
		return nil, &CompressionError{BatchID: id, Reason: "empty batch"}
	}

	encoded, err := encodeRecords(batch.Records)
	if err != nil {
		return nil, &CompressionError{BatchID: batch.ID, Reason: "encode records", Err: err}
	}
	payload := base64.StdEncoding.EncodeToString(encoded)

	skeleton := fmt.Sprintf(skeletonTemplate,
		batch.ID,
		batch.Queue,
		batch.WindowStart.UTC().Format(time.RFC3339),
		batch.WindowEnd.UTC().Format(time.RFC3339),
		len(batch.Records),
		batch.Stats.TotalVolumeSOL,
		batch.Stats.TotalProfitSOL,
		batch.Stats.SuccessRate,
		batch.Stats.AvgExecutionTimeMS,
		batch.Stats.UniqueWallets,
		batch.Stats.UniqueTokens,
		batch.DominantSubject(),
		batch.DominantStrategy(),
		featureSummary(batch.Records),
	)

	return &models.CompressedPrompt{
		BatchID:         batch.ID,
		Skeleton:        skeleton,
		Payload:         payload,
		EstimatedTokens: estimateTokens(skeleton, payload),
		EventCount:      len(batch.Records),
		Identity: models.PromptIdentity{
			Entity:    batch.DominantSubject(),
			Dimension: string(batch.Queue),
			Strategy:  batch.DominantStrategy(),
			AsOf:      batch.WindowEnd,
		},
	}, nil
}

// Decompress restores the original event slice from a prompt payload. Used on
// the recovery path and by the archive writer.
func (c *Compressor) Decompress(prompt *models.CompressedPrompt) ([]*models.Event, error) {
	if prompt == nil {
		return nil, &CompressionError{Reason: "nil prompt"}
	}
	raw, err := base64.StdEncoding.DecodeString(prompt.Payload)
	if err != nil {
		return nil, &CompressionError{BatchID: prompt.BatchID, Reason: "decode base64", Err: err}
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, &CompressionError{BatchID: prompt.BatchID, Reason: "decode records", Err: err}
	}
	return records, nil
}

// featureSummary flattens the most recent feature vector per subject into a
// single prompt line. Subjects are sorted so the rendered skeleton is stable.
func featureSummary(records []*models.Event) string {
	latest := make(map[string]*models.FeatureVector)
	for _, e := range records {
		if e.Features == nil {
			continue
		}
		cur, ok := latest[e.Features.SubjectID]
		if !ok || e.Features.AsOf.After(cur.AsOf) {
			latest[e.Features.SubjectID] = e.Features
		}
	}
	if len(latest) == 0 {
		return "Features: none"
	}

	subjects := make([]string, 0, len(latest))
	for s := range latest {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	var sb strings.Builder
	sb.WriteString("Features:")
	for _, s := range subjects {
		fv := latest[s]
		names := make([]string, 0, len(fv.Indicators))
		for name := range fv.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString(" ")
		sb.WriteString(s)
		sb.WriteString("{")
		for i, name := range names {
			if i > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%s=%.4f", name, fv.Indicators[name])
		}
		sb.WriteString("}")
	}
	return sb.String()
}

// estimateTokens is the rough 4-chars-per-token heuristic used for routing
// cost estimates. It does not need to match any tokenizer exactly.
func estimateTokens(skeleton, payload string) int {
	return (len(skeleton) + len(payload) + 3) / 4
}
