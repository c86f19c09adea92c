package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the payload variant carried by an Event.
type EventKind string

const (
	KindTrade       EventKind = "trade"
	KindPriceTick   EventKind = "price_tick"
	KindOpportunity EventKind = "opportunity"
)

// Event is a single raw observation entering the pipeline. Immutable once
// created; consumed exactly once by the batch aggregator.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EventKind       `json:"kind"`
	Payload   EventPayload    `json:"-"`
	RawPayload json.RawMessage `json:"payload"`

	// Features is filled asynchronously by the feature engine when a fresh
	// vector exists for the event's subject. Nil otherwise.
	Features *FeatureVector `json:"features,omitempty"`
}

// EventPayload is the tagged union of per-kind payload schemas.
type EventPayload interface {
	Kind() EventKind
	Subject() string
}

// TradePayload describes an executed trade.
type TradePayload struct {
	Wallet          string  `json:"wallet"`
	Token           string  `json:"token"`
	Strategy        string  `json:"strategy"`
	AmountSOL       float64 `json:"amount_sol"`
	ProfitSOL       float64 `json:"profit_sol"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
	Success         bool    `json:"success"`
}

func (p *TradePayload) Kind() EventKind { return KindTrade }
func (p *TradePayload) Subject() string { return p.Token }

// PriceTickPayload describes a single price observation.
type PriceTickPayload struct {
	Token  string  `json:"token"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Venue  string  `json:"venue"`
}

func (p *PriceTickPayload) Kind() EventKind { return KindPriceTick }
func (p *PriceTickPayload) Subject() string { return p.Token }

// OpportunityPayload describes a detected opportunity signal.
type OpportunityPayload struct {
	Token       string  `json:"token"`
	Strategy    string  `json:"strategy"`
	EdgeBPS     float64 `json:"edge_bps"`
	Probability float64 `json:"probability"`
	ExpiresInMS int64   `json:"expires_in_ms"`
}

func (p *OpportunityPayload) Kind() EventKind { return KindOpportunity }
func (p *OpportunityPayload) Subject() string { return p.Token }

// NewEvent builds an Event around a typed payload.
func NewEvent(ts time.Time, payload EventPayload) (*Event, error) {
	if payload == nil {
		return nil, fmt.Errorf("event payload is nil")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Kind:       payload.Kind(),
		Payload:    payload,
		RawPayload: raw,
	}, nil
}

// DecodePayload materializes the typed payload from RawPayload based on Kind.
// Events deserialized from the durable queue arrive with only RawPayload set.
func (e *Event) DecodePayload() error {
	if e.Payload != nil {
		return nil
	}
	var p EventPayload
	switch e.Kind {
	case KindTrade:
		p = &TradePayload{}
	case KindPriceTick:
		p = &PriceTickPayload{}
	case KindOpportunity:
		p = &OpportunityPayload{}
	default:
		return fmt.Errorf("unknown event kind: %q", e.Kind)
	}
	if err := json.Unmarshal(e.RawPayload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	e.Payload = p
	return nil
}

// Subject returns the logical subject of the event, or "" when the payload
// has not been decoded.
func (e *Event) Subject() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Subject()
}
