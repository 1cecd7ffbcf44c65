package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "revtree_cache_hits_total",
	Help: "The total number of tree reads served from the cache",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "revtree_cache_misses_total",
	Help: "The total number of tree reads that went to the backing store",
})
