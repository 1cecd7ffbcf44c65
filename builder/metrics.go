package builder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "revtree_builder_builds_total",
	Help: "The total number of tree builds, by outcome",
}, []string{"status"})

var treesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "revtree_builder_trees_written_total",
	Help: "The total number of new trees written by builds",
})

var buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "revtree_builder_build_duration_seconds",
	Help:    "Duration of tree builds",
	Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
})
