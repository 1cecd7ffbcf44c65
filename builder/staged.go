package builder

import (
	"context"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/puzpuzpuz/xsync/v3"
)

// stagedStore is the view of the store a build reads through: trees created during this build (not yet persisted) shadow the backing store. Writes only go to the staging area; the builder persists what is reachable once the build is done.
type stagedStore struct {
	base   storage.ObjectStore
	staged *xsync.MapOf[model.ObjectId, *model.RevTree]
}

var _ storage.ObjectStore = (*stagedStore)(nil)

func newStagedStore(base storage.ObjectStore) *stagedStore {
	return &stagedStore{
		base:   base,
		staged: xsync.NewMapOf[model.ObjectId, *model.RevTree](),
	}
}

func (s *stagedStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	if t, ok := s.staged.Load(id); ok {
		return t, nil
	}
	return s.base.Get(ctx, id)
}

func (s *stagedStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	var rest []model.ObjectId
	for _, id := range ids {
		if t, ok := s.staged.Load(id); ok {
			l.Found(id)
			out = append(out, t)
			continue
		}
		rest = append(rest, id)
	}
	if len(rest) == 0 {
		return out, nil
	}
	fetched, err := s.base.GetAll(ctx, rest, l)
	if err != nil {
		return nil, err
	}
	return append(out, fetched...), nil
}

func (s *stagedStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	_, loaded := s.staged.LoadOrStore(t.Id(), t)
	return !loaded, nil
}

// Delete only drops staged trees
func (s *stagedStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	_, ok := s.staged.LoadAndDelete(id)
	return ok, nil
}

func (s *stagedStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	if _, ok := s.staged.Load(id); ok {
		return true, nil
	}
	return s.base.Exists(ctx, id)
}

func (s *stagedStore) Close() error {
	return nil
}

// lookup returns a staged tree, if any
func (s *stagedStore) lookup(id model.ObjectId) (*model.RevTree, bool) {
	return s.staged.Load(id)
}

func (s *stagedStore) numStaged() int {
	return s.staged.Size()
}
