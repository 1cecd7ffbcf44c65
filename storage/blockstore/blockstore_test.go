package blockstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
	"github.com/geoforge/revtree/storage/memstore"
	"github.com/geoforge/revtree/storage/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlockStore(t *testing.T) {
	storetest.RunObjectStoreTests(t, func(t *testing.T) storage.ObjectStore {
		return NewMemory()
	})
}

func TestFlatfsBlockStore(t *testing.T) {
	storetest.RunObjectStoreTests(t, func(t *testing.T) storage.ObjectStore {
		s, err := OpenFlatfs(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestCidRoundTrip(t *testing.T) {
	assert := assert.New(t)

	id := model.HashBytes([]byte("some tree"))
	c := CidForId(id)
	back, err := IdForCid(c)
	assert.NoError(err)
	assert.Equal(id, back)
}

func TestCARExportImport(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	src := memstore.NewMemstore()
	trees := storetest.SampleTrees(t)
	_, err := storage.PutAll(ctx, src, trees, nil)
	require.NoError(t, err)

	// the mixed tree references all the others, directly or through its bucket
	root := trees[3]
	var buf bytes.Buffer
	n, err := ExportCAR(ctx, src, root.Id(), &buf)
	require.NoError(t, err)
	assert.Equal(4, n)

	dst := NewMemory()
	gotRoot, inserted, err := ImportCAR(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(root.Id(), gotRoot)
	assert.Equal(4, inserted)

	for _, tree := range trees {
		out, err := dst.Get(ctx, tree.Id())
		assert.NoError(err)
		assert.True(tree.Equal(out))
	}
}

func TestCARExportMissing(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	_, err := ExportCAR(ctx, NewMemory(), model.HashBytes([]byte("missing")), &buf)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCARExportEmptyRoot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := ExportCAR(ctx, NewMemory(), model.EmptyTreeId, &buf)
	require.NoError(t, err)
	assert.Equal(1, n)

	dst := memstore.NewMemstore()
	root, _, err := ImportCAR(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(model.EmptyTreeId, root)
}
