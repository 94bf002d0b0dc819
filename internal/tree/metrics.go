package tree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mutationsTotal counts committed forest mutations.
	// Labels: op (add, replace, prune, indent, outdent, move, remove, comment, import, clear)
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Subsystem: "tree",
		Name:      "mutations_total",
		Help:      "Committed call tree mutations by operation",
	}, []string{"op"})

	prunedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upstream",
		Subsystem: "tree",
		Name:      "pruned_nodes_total",
		Help:      "Nodes deleted by prune, reference locations included",
	})
)

func recordMutation(op string) {
	mutationsTotal.WithLabelValues(op).Inc()
}
