// Package storage defines the ObjectStore contract the tree builder and the diff walker are written against, plus helpers shared by all backends.
//
// Backends live in sub-packages: memstore (heap), pebblestore (embedded), gormstore (relational, sqlite or postgres), redisstore (remote), and blockstore (IPFS blockstore, including on-disk flatfs and CAR import/export). cachestore wraps any of them with an in-process cache.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoforge/revtree/model"
)

// Returned (possibly wrapped) whenever a referenced object is absent from a store. Callers must never treat this as "no change".
var ErrNotFound = errors.New("object not found")

// ObjectStore is a content-addressed key/value store of RevTree values, keyed by tree id.
//
// Implementations must be safe for concurrent use, provide read-your-writes consistency, and treat Put as idempotent: storing an id that is already present is a no-op that returns false.
type ObjectStore interface {
	// Returns ErrNotFound if the id is not present
	Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error)

	// Fetches many trees at once. Missing ids are skipped (and reported to the listener); the result is in no particular order.
	GetAll(ctx context.Context, ids []model.ObjectId, l BulkListener) ([]*model.RevTree, error)

	// Stores a tree under its id. Returns true if the tree was not already present.
	Put(ctx context.Context, t *model.RevTree) (bool, error)

	// Returns true if the id was present
	Delete(ctx context.Context, id model.ObjectId) (bool, error)

	Exists(ctx context.Context, id model.ObjectId) (bool, error)

	Close() error
}

// GetTree is Get, except that the canonical empty tree is always resolvable, without I/O.
func GetTree(ctx context.Context, store ObjectStore, id model.ObjectId) (*model.RevTree, error) {
	if id == model.EmptyTreeId {
		return model.EmptyTree, nil
	}
	t, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading tree %s: %w", id, err)
	}
	return t, nil
}

// GetTrees fetches all the given ids with a single GetAll call, returning a map by id. Unlike GetAll, a missing id is an error (wrapping ErrNotFound). The empty tree id is resolved without I/O.
func GetTrees(ctx context.Context, store ObjectStore, ids []model.ObjectId, l BulkListener) (map[model.ObjectId]*model.RevTree, error) {
	out := make(map[model.ObjectId]*model.RevTree, len(ids))
	query := make([]model.ObjectId, 0, len(ids))
	for _, id := range ids {
		if id == model.EmptyTreeId {
			out[id] = model.EmptyTree
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		// placeholder, to dedupe
		out[id] = nil
		query = append(query, id)
	}
	if len(query) == 0 {
		return out, nil
	}
	trees, err := store.GetAll(ctx, query, ListenerOrNop(l))
	if err != nil {
		return nil, err
	}
	for _, t := range trees {
		out[t.Id()] = t
	}
	for id, t := range out {
		if t == nil {
			return nil, fmt.Errorf("loading tree %s: %w", id, ErrNotFound)
		}
	}
	return out, nil
}

// PutAll stores every tree, reporting newly inserted ids to the listener. Returns the number of inserted trees.
func PutAll(ctx context.Context, store ObjectStore, trees []*model.RevTree, l BulkListener) (int, error) {
	l = ListenerOrNop(l)
	inserted := 0
	for _, t := range trees {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		ok, err := store.Put(ctx, t)
		if err != nil {
			return inserted, fmt.Errorf("storing tree %s: %w", t.Id(), err)
		}
		if ok {
			inserted++
			l.Inserted(t.Id())
		}
	}
	return inserted, nil
}
