// Package metrics exposes Prometheus collectors for the pipeline.
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
	targetsProcessedTotal  *prometheus.CounterVec
	verdictsTotal          *prometheus.CounterVec
	discoveredTargetsTotal *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	frontierDepth          prometheus.Gauge
	activeWorkers          prometheus.Gauge
	scorerUnavailableTotal prometheus.Counter
	scorerUp               prometheus.Gauge
	feedbackEnqueuedTotal  *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times; the
// observation helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		targetsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scamhound_targets_processed_total",
				Help: "Targets processed, labeled by kind and fetch outcome.",
			},
			[]string{"kind", "outcome"},
		)

		verdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scamhound_verdicts_total",
				Help: "Verdicts produced, labeled by risk label.",
			},
			[]string{"label"},
		)

		discoveredTargetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scamhound_discovered_targets_total",
				Help: "Newly discovered targets admitted to the frontier, by kind.",
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scamhound_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by target kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		frontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scamhound_frontier_depth",
				Help: "Entries currently tracked by the frontier.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scamhound_active_workers",
				Help: "Workers currently processing a target.",
			},
		)

		scorerUnavailableTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scamhound_scorer_unavailable_total",
				Help: "Model scorer invocations that failed or timed out.",
			},
		)

		scorerUp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scamhound_scorer_up",
				Help: "1 when the model scorer answered its last invocation.",
			},
		)

		feedbackEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scamhound_feedback_enqueued_total",
				Help: "Feedback items enqueued for human review, by reason.",
			},
			[]string{"reason"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTarget counts one processed target.
func ObserveTarget(kind, outcome string) {
	if targetsProcessedTotal == nil {
		return
	}
	targetsProcessedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveVerdict counts one produced verdict.
func ObserveVerdict(label string) {
	if verdictsTotal == nil {
		return
	}
	verdictsTotal.WithLabelValues(label).Inc()
}

// ObserveDiscovered counts a newly admitted discovery.
func ObserveDiscovered(kind string) {
	if discoveredTargetsTotal == nil {
		return
	}
	discoveredTargetsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetchDuration records fetch latency.
func ObserveFetchDuration(kind string, d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// SetFrontierDepth updates the frontier depth gauge.
func SetFrontierDepth(n int) {
	if frontierDepth == nil {
		return
	}
	frontierDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// ObserveScorerUnavailable counts one failed scorer invocation.
func ObserveScorerUnavailable() {
	if scorerUnavailableTotal == nil {
		return
	}
	scorerUnavailableTotal.Inc()
}

// SetScorerUp flips the scorer availability gauge.
func SetScorerUp(up bool) {
	if scorerUp == nil {
		return
	}
	if up {
		scorerUp.Set(1)
		return
	}
	scorerUp.Set(0)
}

// ObserveFeedbackEnqueued counts one feedback item.
func ObserveFeedbackEnqueued(reason string) {
	if feedbackEnqueuedTotal == nil {
		return
	}
	feedbackEnqueuedTotal.WithLabelValues(reason).Inc()
}
