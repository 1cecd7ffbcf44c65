// Package storetest is a conformance suite that every storage.ObjectStore implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SampleTrees returns a few trees of every shape, with distinct ids.
func SampleTrees(t testing.TB) []*model.RevTree {
	var out []*model.RevTree

	var features []model.Node
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("feature-%d", i)
		env := model.NewEnvelope(float64(i), float64(i), float64(i)+0.5, float64(i)+0.5)
		n := model.NewFeatureNode(name, model.HashBytes([]byte(name)), &env)
		if i%3 == 0 {
			n.Extra = map[string]string{"index": fmt.Sprint(i)}
		}
		features = append(features, n)
	}
	leaf, err := model.NewLeafTree(int64(len(features)), 0, nil, features)
	require.NoError(t, err)
	out = append(out, leaf)

	sub := model.NewTreeNode("sub", leaf.Id(), model.HashBytes([]byte("featuretype")), model.BoundsOf(leaf))
	withTrees, err := model.NewLeafTree(leaf.Size()+1, 1, []model.Node{sub}, []model.Node{model.NewFeatureNode("zz", model.HashBytes([]byte("zz")), nil)})
	require.NoError(t, err)
	out = append(out, withTrees)

	bucketed, err := model.NewBucketTree(1200, 0, []model.Bucket{
		{Index: 0, Id: leaf.Id(), Bounds: model.BoundsOf(leaf)},
		{Index: 7, Id: withTrees.Id()},
	})
	require.NoError(t, err)
	out = append(out, bucketed)

	mixed, err := model.NewMixedTree(1300, 1, []model.Node{sub}, nil, []model.Bucket{{Index: 3, Id: bucketed.Id()}})
	require.NoError(t, err)
	out = append(out, mixed)

	return out
}

// RunObjectStoreTests exercises the ObjectStore contract. newStore must return an empty store; the suite closes it.
func RunObjectStoreTests(t *testing.T, newStore func(t *testing.T) storage.ObjectStore) {
	t.Run("PutGet", func(t *testing.T) {
		testPutGet(t, newStore(t))
	})
	t.Run("IdempotentPut", func(t *testing.T) {
		testIdempotentPut(t, newStore(t))
	})
	t.Run("NotFound", func(t *testing.T) {
		testNotFound(t, newStore(t))
	})
	t.Run("GetAll", func(t *testing.T) {
		testGetAll(t, newStore(t))
	})
	t.Run("Delete", func(t *testing.T) {
		testDelete(t, newStore(t))
	})
	t.Run("ConcurrentReaders", func(t *testing.T) {
		testConcurrentReaders(t, newStore(t))
	})
}

func testPutGet(t *testing.T, s storage.ObjectStore) {
	assert := assert.New(t)
	ctx := context.Background()
	defer s.Close()

	for _, tree := range SampleTrees(t) {
		inserted, err := s.Put(ctx, tree)
		assert.NoError(err)
		assert.True(inserted)

		exists, err := s.Exists(ctx, tree.Id())
		assert.NoError(err)
		assert.True(exists)

		out, err := s.Get(ctx, tree.Id())
		assert.NoError(err)
		assert.True(tree.Equal(out), "round trip of %s", tree)
	}
}

func testIdempotentPut(t *testing.T, s storage.ObjectStore) {
	assert := assert.New(t)
	ctx := context.Background()
	defer s.Close()

	tree := SampleTrees(t)[0]
	inserted, err := s.Put(ctx, tree)
	assert.NoError(err)
	assert.True(inserted)

	inserted, err = s.Put(ctx, tree)
	assert.NoError(err)
	assert.False(inserted)

	out, err := s.Get(ctx, tree.Id())
	assert.NoError(err)
	assert.True(tree.Equal(out))
}

func testNotFound(t *testing.T, s storage.ObjectStore) {
	assert := assert.New(t)
	ctx := context.Background()
	defer s.Close()

	missing := model.HashBytes([]byte("missing"))
	_, err := s.Get(ctx, missing)
	assert.ErrorIs(err, storage.ErrNotFound)

	exists, err := s.Exists(ctx, missing)
	assert.NoError(err)
	assert.False(exists)

	deleted, err := s.Delete(ctx, missing)
	assert.NoError(err)
	assert.False(deleted)

	// the empty tree resolves through the helper even when never stored
	empty, err := storage.GetTree(ctx, s, model.EmptyTreeId)
	assert.NoError(err)
	assert.True(empty.IsEmpty())

	_, err = storage.GetTree(ctx, s, missing)
	assert.ErrorIs(err, storage.ErrNotFound)
}

func testGetAll(t *testing.T, s storage.ObjectStore) {
	assert := assert.New(t)
	ctx := context.Background()
	defer s.Close()

	trees := SampleTrees(t)
	l := &storage.CountingListener{}
	n, err := storage.PutAll(ctx, s, trees, l)
	assert.NoError(err)
	assert.Equal(len(trees), n)
	assert.Equal(int64(len(trees)), l.InsertedCount())

	ids := []model.ObjectId{model.HashBytes([]byte("missing"))}
	for _, tree := range trees {
		ids = append(ids, tree.Id())
	}

	l = &storage.CountingListener{}
	out, err := s.GetAll(ctx, ids, l)
	assert.NoError(err)
	assert.Len(out, len(trees))
	assert.Equal(int64(len(trees)), l.FoundCount())
	assert.Equal(int64(1), l.NotFoundCount())

	byId := make(map[model.ObjectId]*model.RevTree)
	for _, tree := range out {
		byId[tree.Id()] = tree
	}
	for _, tree := range trees {
		assert.True(tree.Equal(byId[tree.Id()]))
	}

	// the strict helper turns the missing id in to an error
	_, err = storage.GetTrees(ctx, s, ids, nil)
	assert.ErrorIs(err, storage.ErrNotFound)

	found, err := storage.GetTrees(ctx, s, ids[1:], nil)
	assert.NoError(err)
	assert.Len(found, len(trees))
}

func testDelete(t *testing.T, s storage.ObjectStore) {
	assert := assert.New(t)
	ctx := context.Background()
	defer s.Close()

	tree := SampleTrees(t)[1]
	_, err := s.Put(ctx, tree)
	assert.NoError(err)

	deleted, err := s.Delete(ctx, tree.Id())
	assert.NoError(err)
	assert.True(deleted)

	_, err = s.Get(ctx, tree.Id())
	assert.ErrorIs(err, storage.ErrNotFound)

	// put after delete inserts again
	inserted, err := s.Put(ctx, tree)
	assert.NoError(err)
	assert.True(inserted)
}

func testConcurrentReaders(t *testing.T, s storage.ObjectStore) {
	ctx := context.Background()
	defer s.Close()

	trees := SampleTrees(t)
	_, err := storage.PutAll(ctx, s, trees, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8*len(trees))
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, tree := range trees {
				out, err := s.Get(ctx, tree.Id())
				if err != nil {
					errs <- err
					continue
				}
				if out.Id() != tree.Id() {
					errs <- fmt.Errorf("got %s, wanted %s", out.Id(), tree.Id())
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
