package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/geoforge/revtree/builder"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
	"github.com/geoforge/revtree/storage/memstore"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBBox(t *testing.T) {
	assert := assert.New(t)

	env, err := parseBBox("10, 20, 0,5")
	assert.NoError(err)
	assert.Equal(model.NewEnvelope(0, 5, 10, 20), env)

	_, err = parseBBox("1,2,3")
	assert.Error(err)
	_, err = parseBBox("1,2,3,x")
	assert.Error(err)
}

func TestParseTreeId(t *testing.T) {
	assert := assert.New(t)

	id, err := parseTreeId("empty")
	assert.NoError(err)
	assert.Equal(model.EmptyTreeId, id)

	id, err = parseTreeId(model.EmptyTreeId.String())
	assert.NoError(err)
	assert.Equal(model.EmptyTreeId, id)

	_, err = parseTreeId("abc")
	assert.ErrorIs(err, model.ErrInvalidObjectId)
}

func TestFakeFeature(t *testing.T) {
	assert := assert.New(t)

	a := fakeFeature(gofakeit.New(7), 0)
	b := fakeFeature(gofakeit.New(7), 0)
	assert.True(a.Equal(b))
	assert.NoError(a.Validate())
	assert.NotContains(a.Name, " ")
	assert.NotNil(a.Bounds)
}

func TestResolvePath(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := memstore.NewMemstore()

	build := func(nodes ...model.Node) *model.RevTree {
		b := builder.NewCanonicalTreeBuilder(store, nil, nil)
		for _, n := range nodes {
			require.NoError(t, b.Put(n))
		}
		tree, err := b.Build(ctx)
		require.NoError(t, err)
		return tree
	}

	var roads []model.Node
	for i := range 600 {
		name := fmt.Sprintf("r%04d", i)
		roads = append(roads, model.NewFeatureNode(name, model.HashBytes([]byte(name)), nil))
	}
	sub := build(roads...)
	require.True(t, sub.HasBuckets())
	root := build(
		model.NewTreeNode("roads", sub.Id(), model.NullId, nil),
		model.NewFeatureNode("x", model.HashBytes([]byte("x")), nil),
	)

	n, err := resolvePath(ctx, store, root, "roads")
	assert.NoError(err)
	assert.Equal(sub.Id(), n.Id)

	n, err = resolvePath(ctx, store, root, "/roads/r0123")
	assert.NoError(err)
	assert.True(roads[123].Equal(n))

	_, err = resolvePath(ctx, store, root, "roads/nope")
	assert.ErrorIs(err, storage.ErrNotFound)

	_, err = resolvePath(ctx, store, root, "x/y")
	assert.ErrorContains(err, "is a feature")
}

func TestCommands(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	store := "pebble://" + filepath.Join(dir, "pebble")
	base := []string{"revtool", "--store", store, "--log-level", "warn"}

	assert.NoError(run(append(base, "gen", "--trees", "2", "700")))
	assert.NoError(run(append(base, "info")))
	assert.NoError(run(append(base, "stat", "empty")))
	assert.NoError(run(append(base, "ls-tree", "--flat", "empty")))
	assert.Error(run(append(base, "find", "empty", "nothing")))
	assert.NoError(run(append(base, "diff", "--count", "empty", "empty")))
	assert.NoError(run(append(base, "export", "empty", filepath.Join(dir, "empty.car"))))
	assert.NoError(run(append(base, "import", filepath.Join(dir, "empty.car"))))

	assert.Error(run(append(base, "stat", "not-an-id")))
	assert.Error(run(append(base, "diff", "empty")))
}
