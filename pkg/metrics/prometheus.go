package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsEnqueued *prometheus.CounterVec
	batchesSealed  *prometheus.CounterVec
	batchSize      *prometheus.HistogramVec
	requestsTotal  *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheHitRate   prometheus.Gauge
	cacheEntries   prometheus.Gauge
	cacheMemory    prometheus.Gauge
	totalCost      *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		eventsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infercore_events_enqueued_total",
				Help: "Total number of events accepted into the durable queue",
			},
			[]string{"queue"},
		),
		batchesSealed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infercore_batches_sealed_total",
				Help: "Total number of batches sealed",
			},
			[]string{"queue"},
		),
		batchSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infercore_batch_size",
				Help:    "Record count of sealed batches",
				Buckets: []float64{1, 5, 10, 25, 50, 75, 100, 150},
			},
			[]string{"queue"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infercore_requests_total",
				Help: "Total routed analysis requests",
			},
			[]string{"tier", "cache"},
		),
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "infercore_cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "infercore_cache_misses_total",
			Help: "Total cache misses",
		}),
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "infercore_cache_hit_rate",
			Help: "Steady-state cache hit rate",
		}),
		cacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "infercore_cache_entries",
			Help: "Current cache entry count",
		}),
		cacheMemory: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "infercore_cache_memory_bytes",
			Help: "Approximate cache memory footprint",
		}),
		totalCost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infercore_cost_usd_total",
				Help: "Accumulated estimated model spend in USD",
			},
			[]string{"tier"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infercore_operation_duration_seconds",
				Help:    "Duration of pipeline operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infercore_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordEnqueued records an event accepted into a queue.
func (r *Recorder) RecordEnqueued(queue string) {
	r.eventsEnqueued.WithLabelValues(queue).Inc()
}

// RecordBatchSealed records a sealed batch and its size.
func (r *Recorder) RecordBatchSealed(queue string, size int) {
	r.batchesSealed.WithLabelValues(queue).Inc()
	r.batchSize.WithLabelValues(queue).Observe(float64(size))
}

// RecordRequest records a routed request outcome.
func (r *Recorder) RecordRequest(tier string, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
		r.cacheHits.Inc()
	} else {
		r.cacheMisses.Inc()
	}
	r.requestsTotal.WithLabelValues(tier, cache).Inc()
}

// RecordCost accumulates estimated model spend.
func (r *Recorder) RecordCost(tier string, usd float64) {
	r.totalCost.WithLabelValues(tier).Add(usd)
}

// RecordLatency records operation latency.
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetCacheStats updates cache gauges from the engine's stats snapshot.
func (r *Recorder) SetCacheStats(hitRate float64, entries int64, memoryBytes int64) {
	r.cacheHitRate.Set(hitRate)
	r.cacheEntries.Set(float64(entries))
	r.cacheMemory.Set(float64(memoryBytes))
}
