package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeHit         = "hit"
	outcomeEmpty       = "empty"
	outcomeError       = "error"
	outcomeUnavailable = "unavailable"
)

var (
	// strategyAttemptsTotal counts strategy runs by strategy and outcome.
	// Labels: strategy, outcome (hit, empty, error, unavailable)
	strategyAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Subsystem: "resolve",
		Name:      "strategy_attempts_total",
		Help:      "Caller resolution attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// strategyLatency measures how long each strategy takes to answer.
	strategyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "upstream",
		Subsystem: "resolve",
		Name:      "strategy_latency_seconds",
		Help:      "Caller resolution latency by strategy",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"strategy"})
)

func recordAttempt(strategy, outcome string) {
	strategyAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}
