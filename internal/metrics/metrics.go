// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal       *prometheus.CounterVec
	fetchBytesTotal    prometheus.Counter
	fetchDurationSecs  prometheus.Histogram
	rendersTotal       *prometheus.CounterVec
	captchasTotal      *prometheus.CounterVec
	extractionsTotal   *prometheus.CounterVec
	firmsTotal         *prometheus.CounterVec
	budgetExhausted    prometheus.Counter
	activeWorkers      prometheus.Gauge
	evidenceWrites     *prometheus.CounterVec
	throttleDelaySecs  prometheus.Histogram
	candidatesPerFirm  prometheus.Histogram
	initCollectorsOnce sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	initCollectorsOnce.Do(func() {
		fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_fetches_total",
			Help: "Logical fetches by terminal status.",
		}, []string{"status"})

		fetchBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "firmcrawl_fetch_bytes_total",
			Help: "Total bytes fetched across all firms.",
		})

		fetchDurationSecs = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmcrawl_fetch_duration_seconds",
			Help:    "Latency of logical fetches including repair retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		rendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_renders_total",
			Help: "Headless render attempts by outcome.",
		}, []string{"outcome"})

		captchasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_captchas_total",
			Help: "Captcha detections by kind and solve outcome.",
		}, []string{"kind", "outcome"})

		extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_extractions_total",
			Help: "Extraction pipeline runs by kind and outcome.",
		}, []string{"kind", "outcome"})

		firmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_firms_total",
			Help: "Firms processed by terminal state.",
		}, []string{"state"})

		budgetExhausted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "firmcrawl_budget_exhausted_total",
			Help: "Operations refused because the global budget was exhausted.",
		})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "firmcrawl_active_workers",
			Help: "Firm tasks currently in flight.",
		})

		evidenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "firmcrawl_evidence_writes_total",
			Help: "Evidence store writes, labeled new or duplicate.",
		}, []string{"result"})

		throttleDelaySecs = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmcrawl_throttle_delay_seconds",
			Help:    "Time spent waiting on the per-host throttle.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		})

		candidatesPerFirm = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "firmcrawl_candidates_per_firm",
			Help:    "Candidate URLs discovered per firm and kind.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		})
	})
}

// ObserveFetch records a completed logical fetch.
func ObserveFetch(status string, bytes int, duration time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(status).Inc()
	fetchBytesTotal.Add(float64(bytes))
	fetchDurationSecs.Observe(duration.Seconds())
}

// ObserveRender records a headless render attempt.
func ObserveRender(outcome string) {
	if rendersTotal == nil {
		return
	}
	rendersTotal.WithLabelValues(outcome).Inc()
}

// ObserveCaptcha records a challenge detection.
func ObserveCaptcha(kind, outcome string) {
	if captchasTotal == nil {
		return
	}
	captchasTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveExtraction records one extraction pipeline run.
func ObserveExtraction(kind, outcome string) {
	if extractionsTotal == nil {
		return
	}
	extractionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFirm records a firm reaching a terminal state.
func ObserveFirm(state string) {
	if firmsTotal == nil {
		return
	}
	firmsTotal.WithLabelValues(state).Inc()
}

// ObserveBudgetExhausted records a refused operation.
func ObserveBudgetExhausted() {
	if budgetExhausted == nil {
		return
	}
	budgetExhausted.Inc()
}

// WorkerStarted and WorkerFinished track the in-flight gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished decrements the in-flight gauge.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveEvidenceWrite records a ledger write attempt.
func ObserveEvidenceWrite(inserted bool) {
	if evidenceWrites == nil {
		return
	}
	result := "new"
	if !inserted {
		result = "duplicate"
	}
	evidenceWrites.WithLabelValues(result).Inc()
}

// ObserveThrottleDelay records time spent in the per-host throttle.
func ObserveThrottleDelay(d time.Duration) {
	if throttleDelaySecs != nil && d > time.Millisecond {
		throttleDelaySecs.Observe(d.Seconds())
	}
}

// ObserveCandidates records the discovery fan-out for one firm/kind.
func ObserveCandidates(n int) {
	if candidatesPerFirm != nil {
		candidatesPerFirm.Observe(float64(n))
	}
}
