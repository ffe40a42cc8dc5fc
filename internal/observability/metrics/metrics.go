package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "proxguard_"

var (
	registerOnce sync.Once

	cycleTotal   *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec

	fetchLatency *prometheus.HistogramVec

	dispatchResults *prometheus.CounterVec

	episodesOpened prometheus.Counter
	episodesOpen   prometheus.Gauge

	sourceStale *prometheus.GaugeVec

	sessionsActive prometheus.Gauge
)

// Init registers monitoring metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		cycleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_total",
				Help: "Total monitoring cycles by resulting status",
			},
			[]string{"status"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_latency_seconds",
				Help:    "Monitoring cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_fetch_latency_seconds",
				Help:    "Per-source telemetry fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		dispatchResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_results_total",
				Help: "Total hold dispatch results by outcome",
			},
			[]string{"outcome"},
		)
		episodesOpened = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "episodes_opened_total",
				Help: "Total actuation episodes opened",
			},
		)
		episodesOpen = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "episodes_open",
				Help: "Currently open actuation episodes",
			},
		)
		sourceStale = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "source_sample_age_seconds",
				Help: "Age of the latest sample per source",
			},
			[]string{"source"},
		)
		sessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions_active",
				Help: "Active monitoring sessions",
			},
		)

		prometheus.MustRegister(
			cycleTotal,
			cycleLatency,
			fetchLatency,
			dispatchResults,
			episodesOpened,
			episodesOpen,
			sourceStale,
			sessionsActive,
		)
	})
}

// ObserveCycle records one monitoring cycle.
func ObserveCycle(status string, duration time.Duration) {
	if cycleTotal != nil {
		cycleTotal.WithLabelValues(status).Inc()
	}
	if cycleLatency != nil {
		cycleLatency.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveFetch records one telemetry fetch.
func ObserveFetch(result string, duration time.Duration) {
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncDispatchResult counts a dispatch outcome.
func IncDispatchResult(outcome string) {
	if dispatchResults != nil {
		dispatchResults.WithLabelValues(outcome).Inc()
	}
}

// EpisodeOpened counts a newly opened episode.
func EpisodeOpened() {
	if episodesOpened != nil {
		episodesOpened.Inc()
	}
	if episodesOpen != nil {
		episodesOpen.Inc()
	}
}

// EpisodeClosed marks an episode closed.
func EpisodeClosed() {
	if episodesOpen != nil {
		episodesOpen.Dec()
	}
}

// SetSourceSampleAge reports the latest sample age for a source.
func SetSourceSampleAge(source string, age time.Duration) {
	if sourceStale != nil {
		sourceStale.WithLabelValues(source).Set(age.Seconds())
	}
}

// SessionStarted and SessionStopped track active sessions.
func SessionStarted() {
	if sessionsActive != nil {
		sessionsActive.Inc()
	}
}

func SessionStopped() {
	if sessionsActive != nil {
		sessionsActive.Dec()
	}
}
