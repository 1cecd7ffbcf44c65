package storage

import (
	"github.com/geoforge/revtree/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeObjects = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "revtree_store_objects_total",
	Help: "The total number of objects reported by bulk store operations, by outcome",
}, []string{"store", "op"})

// MetricsListener exports bulk notifications as prometheus counters, labeled with a store name.
type MetricsListener struct {
	found    prometheus.Counter
	notFound prometheus.Counter
	inserted prometheus.Counter
	deleted  prometheus.Counter
}

func NewMetricsListener(store string) *MetricsListener {
	return &MetricsListener{
		found:    storeObjects.WithLabelValues(store, "found"),
		notFound: storeObjects.WithLabelValues(store, "not_found"),
		inserted: storeObjects.WithLabelValues(store, "inserted"),
		deleted:  storeObjects.WithLabelValues(store, "deleted"),
	}
}

func (m *MetricsListener) Found(model.ObjectId)    { m.found.Inc() }
func (m *MetricsListener) NotFound(model.ObjectId) { m.notFound.Inc() }
func (m *MetricsListener) Inserted(model.ObjectId) { m.inserted.Inc() }
func (m *MetricsListener) Deleted(model.ObjectId)  { m.deleted.Inc() }
