package nestedset

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mutationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nestedset_mutations_total",
	Help: "The total number of tree mutations, by operation and result",
}, []string{"op", "result"})

var mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "nestedset_mutation_duration_seconds",
	Help:    "A histogram of tree mutation latencies, lock wait included",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
}, []string{"op"})

var rowsShiftedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nestedset_rows_shifted_total",
	Help: "The total number of boundary values rewritten by bulk shifts",
}, []string{"op"})

var corruptScopesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nestedset_corrupt_scopes_total",
	Help: "The number of scope verifications which found violated invariants",
})

var rebuiltNodesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nestedset_rebuilt_nodes_total",
	Help: "The number of nodes whose boundaries were rewritten by rebuild or level repair",
})
