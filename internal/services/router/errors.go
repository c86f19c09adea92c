package router

import (
	"errors"
	"fmt"

	"InferCore/internal/domain/models"
)

// ErrNoTierAvailable means no tier passed the quality filter before any
// dispatch was attempted. Distinct from exhaustion: nothing was even tried.
var ErrNoTierAvailable = errors.New("no tier satisfies the quality requirement")

// TierExhaustedError means every eligible tier was tried and failed.
type TierExhaustedError struct {
	BatchID  string
	Attempts int
	LastTier models.TierID
	Err      error
}

func (e *TierExhaustedError) Error() string {
	return fmt.Sprintf("all tiers exhausted for batch %s after %d attempts (last tier %s): %v",
		e.BatchID, e.Attempts, e.LastTier, e.Err)
}

func (e *TierExhaustedError) Unwrap() error { return e.Err }
