package router

import (
	"sync"
	"time"

	"InferCore/internal/domain/models"
)

type breakerState struct {
	consecutive int
	openedAt    time.Time
}

// breaker trips a tier after a run of consecutive failures and holds it out
// of rotation for a cooloff window. One success fully resets the count.
type breaker struct {
	mu      sync.Mutex
	states  map[models.TierID]*breakerState
	trips   int
	cooloff time.Duration
	now     func() time.Time
}

func newBreaker(trips int, cooloff time.Duration) *breaker {
	if trips <= 0 {
		trips = 5
	}
	if cooloff <= 0 {
		cooloff = 30 * time.Second
	}
	return &breaker{
		states:  make(map[models.TierID]*breakerState),
		trips:   trips,
		cooloff: cooloff,
		now:     time.Now,
	}
}

// allow reports whether the tier may be dispatched to right now.
func (b *breaker) allow(tier models.TierID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[tier]
	if !ok || s.consecutive < b.trips {
		return true
	}
	if b.now().Sub(s.openedAt) >= b.cooloff {
		// Half-open: let one probe through; failure re-trips immediately.
		s.consecutive = b.trips - 1
		return true
	}
	return false
}

func (b *breaker) failure(tier models.TierID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[tier]
	if !ok {
		s = &breakerState{}
		b.states[tier] = s
	}
	s.consecutive++
	if s.consecutive >= b.trips {
		s.openedAt = b.now()
	}
}

func (b *breaker) success(tier models.TierID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, tier)
}
