package diff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var walksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "revtree_diff_walks_total",
	Help: "The total number of diff walks, by outcome",
}, []string{"status"})

var callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "revtree_diff_callbacks_total",
	Help: "The total number of consumer callbacks made by diff walks",
}, []string{"kind"})
