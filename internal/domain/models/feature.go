package models

import "time"

// FeatureVector carries precomputed numeric indicators for one subject.
// Superseded by newer vectors, never mutated.
type FeatureVector struct {
	SubjectID  string             `json:"subject_id"`
	AsOf       time.Time          `json:"as_of"`
	Indicators map[string]float64 `json:"indicators"`
}

// PricePoint is one OHLCV observation used as feature-engine input.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
