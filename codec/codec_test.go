package codec

import (
	"fmt"
	"testing"

	"github.com/geoforge/revtree/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(name string) model.Node {
	return model.NewFeatureNode(name, model.HashBytes([]byte(name)), nil)
}

func subtree(name string) model.Node {
	return model.NewTreeNode(name, model.HashBytes([]byte("tree/"+name)), model.HashBytes([]byte("meta")), nil)
}

func bucket(idx int) model.Bucket {
	env := model.NewEnvelope(float64(idx), 0, float64(idx)+1, 1)
	return model.Bucket{Index: idx, Id: model.HashBytes([]byte(fmt.Sprintf("bucket-%d", idx))), Bounds: &env}
}

func TestRoundTripShapes(t *testing.T) {
	env := model.NewEnvelope(-10.5, 20, 30, 40.25)
	rich := model.NewFeatureNode("rich", model.HashBytes([]byte("rich")), &env)
	rich.MetadataId = model.HashBytes([]byte("ft"))
	rich.Extra = map[string]string{"b": "2", "a": "1"}

	mustTree := func(tr *model.RevTree, err error) *model.RevTree {
		require.NoError(t, err)
		return tr
	}

	tests := []struct {
		name string
		tree *model.RevTree
	}{
		{"empty", model.EmptyTree},
		{"pure features", mustTree(model.NewLeafTree(3, 0, nil, []model.Node{feature("f1"), feature("f2"), rich}))},
		{"pure trees", mustTree(model.NewLeafTree(40, 7, []model.Node{subtree("a"), subtree("b")}, nil))},
		{"trees and features", mustTree(model.NewLeafTree(41, 7, []model.Node{subtree("a")}, []model.Node{feature("b"), rich}))},
		{"pure buckets", mustTree(model.NewBucketTree(5000, 0, []model.Bucket{bucket(0), bucket(5), bucket(31)}))},
		{"mixed", mustTree(model.NewMixedTree(5041, 12, []model.Node{subtree("a")}, []model.Node{rich}, []model.Bucket{bucket(2)}))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			data, err := Encode(tc.tree)
			assert.NoError(err)

			again, err := Encode(tc.tree)
			assert.NoError(err)
			assert.Equal(data, again)

			out, err := DecodeVerify(tc.tree.Id(), data)
			assert.NoError(err)
			assert.True(tc.tree.Equal(out))
			assert.Equal(tc.tree.Kind(), out.Kind())
			assert.Equal(tc.tree.ChildList(), out.ChildList())
		})
	}
}

func TestDecodeVerifyMismatch(t *testing.T) {
	assert := assert.New(t)

	tree, err := model.NewLeafTree(1, 0, nil, []model.Node{feature("x")})
	assert.NoError(err)
	data, err := Encode(tree)
	assert.NoError(err)

	wrong := model.HashBytes([]byte("not the id"))
	_, err = DecodeVerify(wrong, data)
	assert.ErrorIs(err, ErrIdMismatch)

	// plain Decode trusts the caller
	out, err := Decode(wrong, data)
	assert.NoError(err)
	assert.Equal(wrong, out.Id())
}

func TestDecodeMalformed(t *testing.T) {
	assert := assert.New(t)

	tree, err := model.NewLeafTree(2, 0, nil, []model.Node{feature("x"), feature("y")})
	assert.NoError(err)
	data, err := Encode(tree)
	assert.NoError(err)

	_, err = Decode(tree.Id(), data[:len(data)-5])
	assert.Error(err)

	// not an array
	_, err = Decode(tree.Id(), []byte{0x01})
	assert.ErrorIs(err, ErrMalformed)

	// unknown version
	bad := append([]byte{}, data...)
	bad[1] = 0x05
	_, err = Decode(tree.Id(), bad)
	assert.ErrorIs(err, ErrMalformed)
}
