package cachestore

import (
	"context"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
)

// CacheStore is a read-through, write-through cache in front of a base store. Trees are immutable, so cached entries never go stale; only Delete invalidates.
type CacheStore struct {
	base  storage.ObjectStore
	cache Cache
}

var _ storage.ObjectStore = (*CacheStore)(nil)

func New(base storage.ObjectStore, cache Cache) *CacheStore {
	return &CacheStore{
		base:  base,
		cache: cache,
	}
}

// Base returns the wrapped store
func (s *CacheStore) Base() storage.ObjectStore {
	return s.base
}

func (s *CacheStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	if t, ok := s.cache.Get(id); ok {
		cacheHits.Inc()
		return t, nil
	}
	cacheMisses.Inc()

	t, err := s.base.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, t)
	return t, nil
}

func (s *CacheStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	var missing []model.ObjectId
	for _, id := range ids {
		if t, ok := s.cache.Get(id); ok {
			cacheHits.Inc()
			l.Found(id)
			out = append(out, t)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	cacheMisses.Add(float64(len(missing)))

	fetched, err := s.base.GetAll(ctx, missing, l)
	if err != nil {
		return nil, err
	}
	for _, t := range fetched {
		s.cache.Add(t.Id(), t)
	}
	return append(out, fetched...), nil
}

func (s *CacheStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	ok, err := s.base.Put(ctx, t)
	if err != nil {
		return false, err
	}
	s.cache.Add(t.Id(), t)
	return ok, nil
}

func (s *CacheStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	s.cache.Remove(id)
	return s.base.Delete(ctx, id)
}

func (s *CacheStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	if _, ok := s.cache.Get(id); ok {
		return true, nil
	}
	return s.base.Exists(ctx, id)
}

func (s *CacheStore) Close() error {
	return s.base.Close()
}
