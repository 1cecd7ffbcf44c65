package storage

import (
	"sync/atomic"

	"github.com/geoforge/revtree/model"
)

// BulkListener receives per-object notifications from bulk operations. It exists for instrumentation (counters, progress) and must never be used for control flow.
//
// Implementations must be safe for concurrent use.
type BulkListener interface {
	Found(id model.ObjectId)
	NotFound(id model.ObjectId)
	Inserted(id model.ObjectId)
	Deleted(id model.ObjectId)
}

type NopListener struct{}

func (NopListener) Found(model.ObjectId)    {}
func (NopListener) NotFound(model.ObjectId) {}
func (NopListener) Inserted(model.ObjectId) {}
func (NopListener) Deleted(model.ObjectId)  {}

// CountingListener tallies notifications.
type CountingListener struct {
	found    atomic.Int64
	notFound atomic.Int64
	inserted atomic.Int64
	deleted  atomic.Int64
}

func (c *CountingListener) Found(model.ObjectId)    { c.found.Add(1) }
func (c *CountingListener) NotFound(model.ObjectId) { c.notFound.Add(1) }
func (c *CountingListener) Inserted(model.ObjectId) { c.inserted.Add(1) }
func (c *CountingListener) Deleted(model.ObjectId)  { c.deleted.Add(1) }

func (c *CountingListener) FoundCount() int64    { return c.found.Load() }
func (c *CountingListener) NotFoundCount() int64 { return c.notFound.Load() }
func (c *CountingListener) InsertedCount() int64 { return c.inserted.Load() }
func (c *CountingListener) DeletedCount() int64  { return c.deleted.Load() }

// MultiListener fans notifications out to several listeners.
type MultiListener []BulkListener

func (m MultiListener) Found(id model.ObjectId) {
	for _, l := range m {
		l.Found(id)
	}
}

func (m MultiListener) NotFound(id model.ObjectId) {
	for _, l := range m {
		l.NotFound(id)
	}
}

func (m MultiListener) Inserted(id model.ObjectId) {
	for _, l := range m {
		l.Inserted(id)
	}
}

func (m MultiListener) Deleted(id model.ObjectId) {
	for _, l := range m {
		l.Deleted(id)
	}
}

// ListenerOrNop returns l, or a NopListener if l is nil.
func ListenerOrNop(l BulkListener) BulkListener {
	if l == nil {
		return NopListener{}
	}
	return l
}
