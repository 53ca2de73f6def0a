// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsDiscoveredTotal  *prometheus.CounterVec
	itemsProcessedTotal   *prometheus.CounterVec
	processingErrorsTotal *prometheus.CounterVec
	fragmentsTotal        *prometheus.CounterVec
	assetBytesTotal       *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	rateLimitDelaySeconds prometheus.Histogram
	pipelineState         *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		itemsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexharvest_items_discovered_total",
				Help: "Total unique items discovered, labeled by source.",
			},
			[]string{"source"},
		)
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexharvest_items_processed_total",
				Help: "Total items scraped to completion, labeled by source.",
			},
			[]string{"source"},
		)
		processingErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexharvest_processing_errors_total",
				Help: "Total processing errors, labeled by origin actor and error kind.",
			},
			[]string{"origin", "kind"},
		)
		fragmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexharvest_fragments_total",
				Help: "Total text fragments produced, labeled by source.",
			},
			[]string{"source"},
		)
		assetBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexharvest_asset_bytes_total",
				Help: "Total bytes of downloaded assets, labeled by source.",
			},
			[]string{"source"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexharvest_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by status class.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		)
		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lexharvest_rate_limit_delay_seconds",
				Help:    "Delay introduced by the shared token bucket.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		)
		pipelineState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexharvest_pipeline_state",
				Help: "Current pipeline state (1 for the active state, 0 otherwise).",
			},
			[]string{"state"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// IncDiscovered records one discovered item.
func IncDiscovered(source string) {
	Init()
	itemsDiscoveredTotal.WithLabelValues(source).Inc()
}

// IncProcessed records one completed item.
func IncProcessed(source string) {
	Init()
	itemsProcessedTotal.WithLabelValues(source).Inc()
}

// IncError records one processing error.
func IncError(origin, kind string) {
	Init()
	processingErrorsTotal.WithLabelValues(origin, kind).Inc()
}

// AddFragments records n produced fragments.
func AddFragments(source string, n int) {
	Init()
	fragmentsTotal.WithLabelValues(source).Add(float64(n))
}

// AddAssetBytes records downloaded asset bytes.
func AddAssetBytes(source string, n int64) {
	Init()
	assetBytesTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveFetch records one fetch duration by status class.
func ObserveFetch(status string, d time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveRateLimitDelay records a limiter-introduced wait.
func ObserveRateLimitDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// SetPipelineState flips the state gauge to the given state.
func SetPipelineState(state string) {
	Init()
	for _, s := range []string{"initializing", "discovering", "scraping", "fragmenting", "completed", "error"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		pipelineState.WithLabelValues(s).Set(v)
	}
}
