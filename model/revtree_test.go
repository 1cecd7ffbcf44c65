package model

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(name string) Node {
	return NewFeatureNode(name, HashBytes([]byte("feature:"+name)), nil)
}

func subtree(name string) Node {
	return NewTreeNode(name, HashBytes([]byte("tree:"+name)), NullId, nil)
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestEmptyTree(t *testing.T) {
	assert := assert.New(t)

	assert.True(EmptyTree.IsEmpty())
	assert.Equal(LeafTree, EmptyTree.Kind())
	assert.Equal(EmptyTreeId, EmptyTree.Id())
	assert.Equal(HashTree(nil, nil, nil), EmptyTreeId)
	assert.Equal(int64(0), EmptyTree.Size())

	// constructing an empty tree any other way yields the same id
	leaf, err := NewLeafTree(0, 0, nil, []Node{})
	assert.NoError(err)
	assert.Equal(EmptyTreeId, leaf.Id())

	same, err := NewTree(0, 0, nil, nil, nil)
	assert.NoError(err)
	assert.Same(EmptyTree, same)
}

func TestLeafTreeSortsAndHashes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tree, err := NewLeafTree(3, 0, nil, []Node{feature("f3"), feature("f1"), feature("f2")})
	require.NoError(err)

	assert.Equal(LeafTree, tree.Kind())
	assert.Equal(int64(3), tree.Size())
	assert.Equal(0, tree.NumTrees())
	assert.Equal([]string{"f1", "f2", "f3"}, names(tree.Features()))
	assert.Equal(HashTree(nil, tree.Features(), nil), tree.Id())

	// input order does not matter
	other, err := NewLeafTree(3, 0, nil, []Node{feature("f2"), feature("f3"), feature("f1")})
	require.NoError(err)
	assert.Equal(tree.Id(), other.Id())
	assert.True(tree.Equal(other))

	// any content change changes the id
	changed, err := NewLeafTree(3, 0, nil, []Node{feature("f1"), feature("f2"), feature("f4")})
	require.NoError(err)
	assert.NotEqual(tree.Id(), changed.Id())

	bounded := feature("f1")
	env := NewEnvelope(0, 0, 1, 1)
	bounded.Bounds = &env
	withBounds, err := NewLeafTree(3, 0, nil, []Node{bounded, feature("f2"), feature("f3")})
	require.NoError(err)
	assert.NotEqual(tree.Id(), withBounds.Id())

	extra := feature("f1")
	extra.Extra = map[string]string{"k": "v"}
	withExtra, err := NewLeafTree(3, 0, nil, []Node{extra, feature("f2"), feature("f3")})
	require.NoError(err)
	assert.NotEqual(tree.Id(), withExtra.Id())
	assert.NotEqual(withBounds.Id(), withExtra.Id())
}

func TestMixedChildrenIteration(t *testing.T) {
	assert := assert.New(t)

	tree, err := NewLeafTree(10, 3, []Node{subtree("b"), subtree("d"), subtree("a")}, []Node{feature("c"), feature("e"), feature("aa")})
	assert.NoError(err)

	var seen []string
	for n := range tree.Children() {
		seen = append(seen, n.Name)
	}
	assert.Equal([]string{"a", "aa", "b", "c", "d", "e"}, seen)
	assert.Equal(seen, names(tree.ChildList()))

	// early termination
	var first []string
	for n := range tree.Children() {
		first = append(first, n.Name)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal([]string{"a", "aa"}, first)

	n, ok := tree.Find("d")
	assert.True(ok)
	assert.Equal(TypeTree, n.Type)
	n, ok = tree.Find("aa")
	assert.True(ok)
	assert.Equal(TypeFeature, n.Type)
	_, ok = tree.Find("zz")
	assert.False(ok)
}

func TestTreeShapes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	b1 := Bucket{Index: 3, Id: HashBytes([]byte("b3"))}
	b2 := Bucket{Index: 1, Id: HashBytes([]byte("b1"))}

	bucketed, err := NewBucketTree(1000, 2, []Bucket{b1, b2})
	require.NoError(err)
	assert.Equal(BucketTree, bucketed.Kind())
	assert.Equal([]int{1, 3}, []int{bucketed.Buckets()[0].Index, bucketed.Buckets()[1].Index})
	got, ok := bucketed.Bucket(3)
	assert.True(ok)
	assert.Equal(b1, got)
	_, ok = bucketed.Bucket(2)
	assert.False(ok)
	assert.Empty(slices.Collect(bucketed.Children()))

	mixed, err := NewMixedTree(1001, 3, []Node{subtree("t")}, []Node{feature("f")}, []Bucket{b1, b2})
	require.NoError(err)
	assert.Equal(MixedTree, mixed.Kind())
	assert.Equal(HashTree(mixed.Trees(), mixed.Features(), mixed.Buckets()), mixed.Id())

	viaNewTree, err := NewTree(1001, 3, []Node{subtree("t")}, []Node{feature("f")}, []Bucket{b2, b1})
	require.NoError(err)
	assert.Equal(mixed.Id(), viaNewTree.Id())

	_, err = NewBucketTree(0, 0, nil)
	assert.ErrorIs(err, ErrInvalidTree)
	_, err = NewMixedTree(1, 0, nil, []Node{feature("f")}, nil)
	assert.ErrorIs(err, ErrInvalidTree)
}

func TestTreePreconditions(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name     string
		size     int64
		numTrees int
		trees    []Node
		features []Node
		buckets  []Bucket
		err      error
	}{
		{name: "negative size", size: -1, err: ErrInvalidTree},
		{name: "size below feature count", size: 1, features: []Node{feature("a"), feature("b")}, err: ErrInvalidTree},
		{name: "tree count below tree nodes", size: 0, trees: []Node{subtree("a")}, err: ErrInvalidTree},
		{name: "feature in tree list", size: 1, numTrees: 1, trees: []Node{feature("a")}, err: ErrInvalidTree},
		{name: "duplicate name across lists", size: 1, numTrees: 1, trees: []Node{subtree("a")}, features: []Node{feature("a")}, err: ErrInvalidTree},
		{name: "duplicate bucket", size: 10, buckets: []Bucket{{Index: 1, Id: HashBytes([]byte("x"))}, {Index: 1, Id: HashBytes([]byte("y"))}}, err: ErrInvalidTree},
		{name: "null bucket id", size: 10, buckets: []Bucket{{Index: 1}}, err: ErrInvalidTree},
		{name: "empty node name", size: 1, features: []Node{NewFeatureNode("", HashBytes([]byte("x")), nil)}, err: ErrInvalidNode},
		{name: "null node id", size: 1, features: []Node{NewFeatureNode("a", NullId, nil)}, err: ErrInvalidNode},
		{name: "inverted bounds", size: 1, features: []Node{NewFeatureNode("a", HashBytes([]byte("x")), &Envelope{MinX: 2, MaxX: 1})}, err: ErrInvalidNode},
	}

	for _, tc := range tests {
		_, err := NewTree(tc.size, tc.numTrees, tc.trees, tc.features, tc.buckets)
		assert.ErrorIs(err, tc.err, tc.name)
	}
}

func TestBoundsOf(t *testing.T) {
	assert := assert.New(t)

	tree, err := NewLeafTree(2, 0, nil, []Node{feature("a"), feature("b")})
	assert.NoError(err)
	assert.Nil(BoundsOf(tree))

	e1 := NewEnvelope(0, 0, 1, 1)
	e2 := NewEnvelope(5, -1, 6, 0.5)
	a := feature("a")
	a.Bounds = &e1
	b := feature("b")
	b.Bounds = &e2
	tree, err = NewLeafTree(2, 0, nil, []Node{a, b})
	assert.NoError(err)
	assert.Equal(&Envelope{MinX: 0, MinY: -1, MaxX: 6, MaxY: 1}, BoundsOf(tree))

	// one unbounded child makes the extent unknown
	tree, err = NewLeafTree(3, 0, nil, []Node{a, b, feature("c")})
	assert.NoError(err)
	assert.Nil(BoundsOf(tree))
}

func TestRestoreTree(t *testing.T) {
	assert := assert.New(t)

	var features []Node
	for i := 0; i < 5; i++ {
		features = append(features, feature(fmt.Sprintf("f%d", i)))
	}
	orig, err := NewLeafTree(5, 0, nil, features)
	assert.NoError(err)

	restored, err := RestoreTree(orig.Id(), orig.Size(), orig.NumTrees(), orig.Trees(), orig.Features(), orig.Buckets())
	assert.NoError(err)
	assert.True(orig.Equal(restored))

	empty, err := RestoreTree(EmptyTreeId, 0, 0, nil, nil, nil)
	assert.NoError(err)
	assert.Same(EmptyTree, empty)
}
