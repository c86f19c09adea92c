package features

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"InferCore/internal/domain/models"
	"InferCore/pkg/logger"
)

const (
	// maxHistory bounds per-subject price history; enough for the slowest
	// indicator window with headroom.
	maxHistory = 512

	// minPoints is the floor below which no vector is produced at all.
	minPoints = 6
)

// Options configure indicator windows and the recompute worker pool.
type Options struct {
	Workers    int
	EMAPeriods []int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	Cadence    time.Duration
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if len(o.EMAPeriods) == 0 {
		o.EMAPeriods = []int{5, 20, 50}
	}
	if o.RSIPeriod <= 0 {
		o.RSIPeriod = 14
	}
	if o.MACDFast <= 0 {
		o.MACDFast = 12
	}
	if o.MACDSlow <= o.MACDFast {
		o.MACDSlow = 26
	}
	if o.MACDSignal <= 0 {
		o.MACDSignal = 9
	}
	if o.Cadence <= 0 {
		o.Cadence = 5 * time.Second
	}
}

// Engine ingests price observations and periodically recomputes per-subject
// indicator vectors on a bounded worker pool. Lookups never block on
// computation: readers always see the last completed vector.
type Engine struct {
	opts  Options
	store *VectorStore
	log   *logger.Logger

	mu      sync.Mutex
	history map[string][]models.PricePoint
	dirty   map[string]struct{}

	now func() time.Time
}

func NewEngine(opts Options, store *VectorStore, log *logger.Logger) *Engine {
	opts.normalize()
	return &Engine{
		opts:    opts,
		store:   store,
		log:     log,
		history: make(map[string][]models.PricePoint),
		dirty:   make(map[string]struct{}),
		now:     time.Now,
	}
}

// Observe feeds one event into the price history. Only price ticks carry
// usable observations; other kinds are ignored.
func (e *Engine) Observe(ev *models.Event) {
	tick, ok := ev.Payload.(*models.PriceTickPayload)
	if !ok || tick.Token == "" {
		return
	}
	point := models.PricePoint{
		Timestamp: ev.Timestamp,
		Close:     tick.Price,
		Volume:    tick.Volume,
	}

	e.mu.Lock()
	h := append(e.history[tick.Token], point)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	e.history[tick.Token] = h
	e.dirty[tick.Token] = struct{}{}
	e.mu.Unlock()
}

// Annotate attaches the latest non-stale vector to each record that lacks
// one. Best effort: records whose subject has no vector stay bare.
func (e *Engine) Annotate(records []*models.Event) int {
	attached := 0
	for _, r := range records {
		if r.Features != nil {
			continue
		}
		subject := r.Subject()
		if subject == "" {
			continue
		}
		if v, ok := e.store.Latest(subject); ok {
			r.Features = v
			attached++
		}
	}
	return attached
}

// Run recomputes dirty subjects on a fixed cadence until the context is
// cancelled. One final sweep runs on shutdown so late observations are not
// lost.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.Cadence)
	defer ticker.Stop()

	e.log.Info("feature engine started",
		logger.Int("workers", e.opts.Workers),
		logger.Duration("cadence", e.opts.Cadence))

	for {
		select {
		case <-ctx.Done():
			e.recomputeDirty(context.Background())
			return ctx.Err()
		case <-ticker.C:
			if err := e.recomputeDirty(ctx); err != nil {
				e.log.Warn("feature recompute sweep failed", logger.Error(err))
			}
		}
	}
}

// recomputeDirty snapshots all subjects touched since the previous sweep and
// recomputes them in parallel.
func (e *Engine) recomputeDirty(ctx context.Context) error {
	e.mu.Lock()
	if len(e.dirty) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := make(map[string][]models.PricePoint, len(e.dirty))
	for subject := range e.dirty {
		h := e.history[subject]
		snapshot := make([]models.PricePoint, len(h))
		copy(snapshot, h)
		batch[subject] = snapshot
	}
	e.dirty = make(map[string]struct{})
	e.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for subject, points := range batch {
		subject, points := subject, points
		g.Go(func() error {
			v := e.computeVector(subject, points)
			if v != nil {
				e.store.Put(v)
			}
			return nil
		})
	}
	return g.Wait()
}

// computeVector derives the indicator map for one subject. Indicators whose
// window is not yet filled are simply omitted from the map.
func (e *Engine) computeVector(subject string, points []models.PricePoint) *models.FeatureVector {
	if len(points) < minPoints {
		return nil
	}
	closes := make([]float64, len(points))
	volumes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
		volumes[i] = p.Volume
	}

	ind := make(map[string]float64)
	ind["last_price"] = closes[len(closes)-1]

	for _, period := range e.opts.EMAPeriods {
		if v, ok := EMA(closes, period); ok {
			ind[fmt.Sprintf("ema_%d", period)] = v
		}
	}
	if v, ok := RSI(closes, e.opts.RSIPeriod); ok {
		ind[fmt.Sprintf("rsi_%d", e.opts.RSIPeriod)] = v
	}
	if macd, sig, hist, ok := MACD(closes, e.opts.MACDFast, e.opts.MACDSlow, e.opts.MACDSignal); ok {
		ind["macd"] = macd
		ind["macd_signal"] = sig
		ind["macd_hist"] = hist
	}
	if v, ok := BollingerWidth(closes, 20); ok {
		ind["boll_width"] = v
	}

	var vol, mom float64
	if v, ok := RealizedVolatility(closes, 20); ok {
		ind["realized_vol"] = v
		vol = v
	}
	if v, ok := Momentum(closes, 10); ok {
		ind["momentum"] = v
		mom = v
	}

	volumeRatio := volumePressure(volumes)
	ind["volume_ratio"] = volumeRatio
	ind["mev_score"] = MEVComposite(mom, vol, volumeRatio)

	return &models.FeatureVector{
		SubjectID:  subject,
		AsOf:       points[len(points)-1].Timestamp,
		Indicators: ind,
	}
}

// volumePressure is recent average volume over trailing average volume; 1
// means no pressure either way.
func volumePressure(volumes []float64) float64 {
	if len(volumes) < 10 {
		return 1
	}
	recent := volumes[len(volumes)-5:]
	trailing := volumes[:len(volumes)-5]

	avg := func(vs []float64) float64 {
		sum := 0.0
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	}
	base := avg(trailing)
	if base == 0 {
		return 1
	}
	return avg(recent) / base
}
