package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	modeMethod = "method"
	modeClass  = "class"
)

var (
	// searchesTotal counts top-level searches.
	// Labels: mode (method, class), outcome (complete, cancelled)
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Subsystem: "search",
		Name:      "searches_total",
		Help:      "Top-level searches by mode and outcome",
	}, []string{"mode", "outcome"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "upstream",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Wall time of a top-level search",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})

	searchMethods = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "upstream",
		Subsystem: "search",
		Name:      "methods",
		Help:      "Distinct caller methods found per search",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

func recordSearch(mode string, s Summary) {
	outcome := "complete"
	if s.Cancelled {
		outcome = "cancelled"
	}
	searchesTotal.WithLabelValues(mode, outcome).Inc()
	searchDuration.WithLabelValues(mode).Observe(s.Duration.Seconds())
	searchMethods.Observe(float64(s.Methods))
}
