package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"InferCore/pkg/logger"
)

// Entry is one memoized value. Never mutated in place; refresh overwrites
// wholesale.
type Entry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
	TTL        time.Duration   `json:"ttl"`
}

// EffectiveLifetime is ttl scaled by the confidence decay factor: entries
// the model was less sure about expire sooner, forcing a refresh before the
// nominal TTL.
func (e *Entry) EffectiveLifetime() time.Duration {
	return time.Duration(float64(e.TTL) * decayFactor(e.Confidence))
}

// Servable reports whether the entry may still be returned at now.
func (e *Entry) Servable(now time.Time) bool {
	return now.Before(e.CreatedAt.Add(e.EffectiveLifetime()))
}

// decayFactor maps confidence in [0,1] to a lifetime multiplier. Linear and
// monotonically increasing; floor keeps even low-confidence entries servable
// for a quarter of their TTL.
func decayFactor(confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return 0.25 + 0.75*confidence
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	EntryCount  int64
	MemoryBytes int64
}

// Config tunes the engine.
type Config struct {
	DefaultTTL      time.Duration
	MemoryBudget    int64 // bytes
	MinHitRate      float64
	CleanupInterval time.Duration
}

// Engine is the memoization layer: time- and confidence-based expiry over a
// pluggable backing store. Backing-store failures are absorbed: Get degrades
// to a miss, Set returns an error the caller logs but never propagates as a
// request failure.
type Engine struct {
	store  Store
	cfg    Config
	log    *logger.Logger
	hits   atomic.Uint64
	misses atomic.Uint64

	lastCleanup atomic.Int64 // unix nanos
}

// NewEngine creates a cache engine over the given store.
func NewEngine(store Store, cfg Config, log *logger.Logger) *Engine {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MemoryBudget <= 0 {
		cfg.MemoryBudget = 512 << 20
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	e := &Engine{store: store, cfg: cfg, log: log}
	e.lastCleanup.Store(time.Now().UnixNano())
	return e
}

// Get returns the entry for key if one exists and is still servable.
func (e *Engine) Get(ctx context.Context, key Key) (*Entry, bool) {
	raw, ok, err := e.store.GetBytes(ctx, key.String())
	if err != nil {
		// Unreachable store is a miss, not a failure.
		e.log.Warn("cache get degraded to miss", logger.String("key", key.String()), logger.Error(err))
		e.misses.Add(1)
		return nil, false
	}
	if !ok {
		e.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		e.log.Warn("cache entry corrupt, evicting", logger.String("key", key.String()), logger.Error(err))
		_ = e.store.Delete(ctx, key.String())
		e.misses.Add(1)
		return nil, false
	}

	if !entry.Servable(time.Now()) {
		_ = e.store.Delete(ctx, key.String())
		e.misses.Add(1)
		return nil, false
	}

	e.hits.Add(1)
	return &entry, true
}

// Set memoizes value under key. The store-level TTL is the nominal TTL; the
// tighter confidence-weighted bound is enforced on read.
func (e *Engine) Set(ctx context.Context, key Key, value interface{}, confidence float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = e.cfg.DefaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}

	entry := Entry{
		Key:        key.String(),
		Value:      raw,
		Confidence: confidence,
		CreatedAt:  time.Now(),
		TTL:        ttl,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	if err := e.store.SetBytes(ctx, key.String(), data, ttl); err != nil {
		return fmt.Errorf("cache: store set: %w", err)
	}

	e.maybeCleanup(ctx)
	return nil
}

// Invalidate removes a single entry.
func (e *Engine) Invalidate(ctx context.Context, key Key) error {
	return e.store.Delete(ctx, key.String())
}

// ClearMatching removes all entries whose key starts with prefix; an empty
// prefix clears the whole cache namespace.
func (e *Engine) ClearMatching(ctx context.Context, prefix string) (int64, error) {
	full := keyPrefix
	if prefix != "" {
		full = keyPrefix + ":" + prefix
	}
	n, err := e.store.DeletePrefix(ctx, full)
	if err != nil {
		return n, fmt.Errorf("cache: clear matching: %w", err)
	}
	e.log.Info("cache cleared", logger.String("prefix", full), logger.Int64("deleted", n))
	return n, nil
}

// Stats snapshots counters and store size.
func (e *Engine) Stats(ctx context.Context) Stats {
	hits := e.hits.Load()
	misses := e.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if n, err := e.store.Count(ctx); err == nil {
		s.EntryCount = n
	}
	if b, err := e.store.MemoryBytes(ctx); err == nil {
		s.MemoryBytes = b
	}
	return s
}

// maybeCleanup clears the cache when memory pressure and a low hit ratio
// coincide: a big cold cache is pollution, not an asset. Checked at most
// once per CleanupInterval.
func (e *Engine) maybeCleanup(ctx context.Context) {
	last := e.lastCleanup.Load()
	now := time.Now().UnixNano()
	if now-last < e.cfg.CleanupInterval.Nanoseconds() {
		return
	}
	if !e.lastCleanup.CompareAndSwap(last, now) {
		return
	}

	s := e.Stats(ctx)
	total := s.Hits + s.Misses
	if total < 100 {
		return // not enough traffic to judge
	}
	if s.MemoryBytes > e.cfg.MemoryBudget && s.HitRate < e.cfg.MinHitRate {
		n, err := e.ClearMatching(ctx, "")
		if err != nil {
			e.log.Warn("cache pollution cleanup failed", logger.Error(err))
			return
		}
		e.log.Info("cache pollution cleanup",
			logger.Int64("deleted", n),
			logger.Float64("hit_rate", s.HitRate),
			logger.Int64("memory_bytes", s.MemoryBytes))
	}
}

// Close releases the backing store.
func (e *Engine) Close() error {
	return e.store.Close()
}
