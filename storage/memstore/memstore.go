// Package memstore is a heap-backed ObjectStore, for tests and short-lived tools.
package memstore

import (
	"context"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memstore keeps decoded trees in a concurrent map. Trees are immutable values, so they are stored and returned without copying.
type Memstore struct {
	trees *xsync.MapOf[model.ObjectId, *model.RevTree]
}

var _ storage.ObjectStore = (*Memstore)(nil)

func NewMemstore() *Memstore {
	return &Memstore{
		trees: xsync.NewMapOf[model.ObjectId, *model.RevTree](),
	}
}

func (s *Memstore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	t, ok := s.trees.Load(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (s *Memstore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, ok := s.trees.Load(id)
		if !ok {
			l.NotFound(id)
			continue
		}
		l.Found(id)
		out = append(out, t)
	}
	return out, nil
}

func (s *Memstore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	_, loaded := s.trees.LoadOrStore(t.Id(), t)
	return !loaded, nil
}

func (s *Memstore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	_, loaded := s.trees.LoadAndDelete(id)
	return loaded, nil
}

func (s *Memstore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	_, ok := s.trees.Load(id)
	return ok, nil
}

// Len returns the number of stored trees
func (s *Memstore) Len() int {
	return s.trees.Size()
}

func (s *Memstore) Close() error {
	return nil
}
