package model

import (
	"fmt"
	"iter"
	"slices"
)

type TreeKind uint8

const (
	// only trees and/or features
	LeafTree TreeKind = iota
	// only buckets
	BucketTree
	// nodes and buckets side by side; never produced by the canonical builder, but readable
	MixedTree
)

func (k TreeKind) String() string {
	switch k {
	case LeafTree:
		return "leaf"
	case BucketTree:
		return "bucketed"
	case MixedTree:
		return "mixed"
	default:
		return fmt.Sprintf("TreeKind(%d)", uint8(k))
	}
}

// RevTree is an immutable, content-addressed tree. Its shape is one of:
//
//   - LeafTree: canonically ordered lists of tree nodes and feature nodes
//   - BucketTree: index-sorted buckets, each pointing at a shard tree one level deeper
//   - MixedTree: both of the above
//
// Trees are only created through the constructors in this package, which validate the contents and compute the id. The accessors return internal slices, which must not be modified.
type RevTree struct {
	id       ObjectId
	kind     TreeKind
	size     int64
	numTrees int
	trees    []Node
	features []Node
	buckets  []Bucket
}

// EmptyTree is the single canonical tree with no children.
var EmptyTree = &RevTree{
	id:   HashTree(nil, nil, nil),
	kind: LeafTree,
}

// EmptyTreeId is the id of EmptyTree. It is a fixed value, and stores may resolve it without any I/O.
var EmptyTreeId = EmptyTree.id

// NewLeafTree creates a flat tree. 'size' is the recursive feature count (features here, plus the size of every child tree), and 'numTrees' the recursive count of tree nodes; callers compute both since they may require loading child trees.
//
// The node lists are copied and sorted. A node in the wrong list, a duplicate name (across both lists), or a malformed node is an error.
func NewLeafTree(size int64, numTrees int, trees, features []Node) (*RevTree, error) {
	t, err := newTree(size, numTrees, trees, features, nil)
	if err != nil {
		return nil, err
	}
	t.id = HashTree(t.trees, t.features, t.buckets)
	return t, nil
}

// NewBucketTree creates a sharded tree. There must be at least one bucket.
func NewBucketTree(size int64, numTrees int, buckets []Bucket) (*RevTree, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("%w: bucket tree requires at least one bucket", ErrInvalidTree)
	}
	t, err := newTree(size, numTrees, nil, nil, buckets)
	if err != nil {
		return nil, err
	}
	t.id = HashTree(t.trees, t.features, t.buckets)
	return t, nil
}

// NewMixedTree creates a tree carrying both nodes and buckets. At least one node and one bucket are required.
func NewMixedTree(size int64, numTrees int, trees, features []Node, buckets []Bucket) (*RevTree, error) {
	if len(buckets) == 0 || len(trees)+len(features) == 0 {
		return nil, fmt.Errorf("%w: mixed tree requires both nodes and buckets", ErrInvalidTree)
	}
	t, err := newTree(size, numTrees, trees, features, buckets)
	if err != nil {
		return nil, err
	}
	t.id = HashTree(t.trees, t.features, t.buckets)
	return t, nil
}

// NewTree picks the shape from the contents. An all-empty argument set returns EmptyTree.
func NewTree(size int64, numTrees int, trees, features []Node, buckets []Bucket) (*RevTree, error) {
	switch {
	case len(buckets) == 0:
		if len(trees)+len(features) == 0 && size == 0 && numTrees == 0 {
			return EmptyTree, nil
		}
		return NewLeafTree(size, numTrees, trees, features)
	case len(trees)+len(features) == 0:
		return NewBucketTree(size, numTrees, buckets)
	default:
		return NewMixedTree(size, numTrees, trees, features, buckets)
	}
}

// RestoreTree re-creates a tree that was previously persisted under 'id', without re-hashing the contents. Codecs use this on the read path; contents are still validated.
func RestoreTree(id ObjectId, size int64, numTrees int, trees, features []Node, buckets []Bucket) (*RevTree, error) {
	if id == EmptyTreeId && len(trees)+len(features)+len(buckets) == 0 {
		return EmptyTree, nil
	}
	t, err := newTree(size, numTrees, trees, features, buckets)
	if err != nil {
		return nil, err
	}
	t.id = id
	return t, nil
}

func newTree(size int64, numTrees int, trees, features []Node, buckets []Bucket) (*RevTree, error) {
	if size < 0 || numTrees < 0 {
		return nil, fmt.Errorf("%w: negative size (%d) or tree count (%d)", ErrInvalidTree, size, numTrees)
	}
	if size < int64(len(features)) {
		return nil, fmt.Errorf("%w: size %d smaller than feature count %d", ErrInvalidTree, size, len(features))
	}
	if numTrees < len(trees) {
		return nil, fmt.Errorf("%w: tree count %d smaller than tree node count %d", ErrInvalidTree, numTrees, len(trees))
	}

	t := &RevTree{
		size:     size,
		numTrees: numTrees,
	}
	if len(trees) > 0 {
		t.trees = slices.Clone(trees)
		SortNodes(t.trees)
	}
	if len(features) > 0 {
		t.features = slices.Clone(features)
		SortNodes(t.features)
	}
	if len(buckets) > 0 {
		t.buckets = slices.Clone(buckets)
		slices.SortFunc(t.buckets, func(a, b Bucket) int { return a.Index - b.Index })
	}

	for _, n := range t.trees {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if n.Type != TypeTree {
			return nil, fmt.Errorf("%w: %s in tree node list", ErrInvalidTree, n)
		}
	}
	for _, n := range t.features {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if n.Type != TypeFeature {
			return nil, fmt.Errorf("%w: %s in feature node list", ErrInvalidTree, n)
		}
	}
	// names are unique across both lists
	var prev string
	for i, n := range MergeNodes(t.trees, t.features) {
		if i > 0 && n.Name == prev {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidTree, n.Name)
		}
		prev = n.Name
	}
	for i, b := range t.buckets {
		if b.Index < 0 {
			return nil, fmt.Errorf("%w: negative bucket index %d", ErrInvalidTree, b.Index)
		}
		if b.Id.IsNull() {
			return nil, fmt.Errorf("%w: bucket %d has null id", ErrInvalidTree, b.Index)
		}
		if i > 0 && t.buckets[i-1].Index == b.Index {
			return nil, fmt.Errorf("%w: duplicate bucket index %d", ErrInvalidTree, b.Index)
		}
	}

	switch {
	case len(t.buckets) == 0:
		t.kind = LeafTree
	case len(t.trees)+len(t.features) == 0:
		t.kind = BucketTree
	default:
		t.kind = MixedTree
	}
	return t, nil
}

func (t *RevTree) Id() ObjectId {
	return t.id
}

func (t *RevTree) Kind() TreeKind {
	return t.kind
}

// Size is the total number of features reachable from this tree, including through child trees and buckets.
func (t *RevTree) Size() int64 {
	return t.size
}

// NumTrees is the total number of tree nodes reachable from this tree, including through child trees and buckets.
func (t *RevTree) NumTrees() int {
	return t.numTrees
}

func (t *RevTree) Trees() []Node {
	return t.trees
}

func (t *RevTree) Features() []Node {
	return t.features
}

// Buckets are sorted by index.
func (t *RevTree) Buckets() []Bucket {
	return t.buckets
}

func (t *RevTree) Bucket(index int) (Bucket, bool) {
	i, found := slices.BinarySearchFunc(t.buckets, index, func(b Bucket, idx int) int { return b.Index - idx })
	if !found {
		return Bucket{}, false
	}
	return t.buckets[i], true
}

func (t *RevTree) HasBuckets() bool {
	return len(t.buckets) > 0
}

func (t *RevTree) IsEmpty() bool {
	return len(t.trees)+len(t.features)+len(t.buckets) == 0
}

// NumDirectNodes counts the nodes held directly by this tree (not through buckets).
func (t *RevTree) NumDirectNodes() int {
	return len(t.trees) + len(t.features)
}

// Children iterates over the tree and feature nodes held directly by this tree, merged in to a single canonically ordered sequence.
func (t *RevTree) Children() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		i, j := 0, 0
		for i < len(t.trees) || j < len(t.features) {
			var n Node
			if j >= len(t.features) || (i < len(t.trees) && CanonicalNodeOrder(t.trees[i], t.features[j]) < 0) {
				n = t.trees[i]
				i++
			} else {
				n = t.features[j]
				j++
			}
			if !yield(n) {
				return
			}
		}
	}
}

// ChildList is Children collected in to a new slice.
func (t *RevTree) ChildList() []Node {
	return MergeNodes(t.trees, t.features)
}

// Find looks up a direct child by name. It does not descend in to buckets.
func (t *RevTree) Find(name string) (Node, bool) {
	for _, list := range [][]Node{t.trees, t.features} {
		i, found := slices.BinarySearchFunc(list, name, func(n Node, name string) int { return CompareNames(n.Name, name) })
		if found {
			return list[i], true
		}
	}
	return Node{}, false
}

func (t *RevTree) String() string {
	return fmt.Sprintf("tree %s (%s size=%d trees=%d nodes=%d buckets=%d)", t.id.Short(), t.kind, t.size, t.numTrees, t.NumDirectNodes(), len(t.buckets))
}

// BoundsOf returns the union of the bounds of all direct nodes and buckets of a tree. A child without bounds has unknown extent, so if any child lacks bounds (or the tree is empty) the result is nil.
func BoundsOf(t *RevTree) *Envelope {
	env := emptyEnvelope()
	for _, list := range [][]Node{t.trees, t.features} {
		for _, n := range list {
			if n.Bounds == nil {
				return nil
			}
			env = env.ExpandToInclude(*n.Bounds)
		}
	}
	for _, b := range t.buckets {
		if b.Bounds == nil {
			return nil
		}
		env = env.ExpandToInclude(*b.Bounds)
	}
	if env.IsEmpty() {
		return nil
	}
	return &env
}

// Equal reports whether two trees have the same id and the same materialized contents.
func (t *RevTree) Equal(other *RevTree) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.id == other.id &&
		t.kind == other.kind &&
		t.size == other.size &&
		t.numTrees == other.numTrees &&
		slices.EqualFunc(t.trees, other.trees, Node.Equal) &&
		slices.EqualFunc(t.features, other.features, Node.Equal) &&
		slices.EqualFunc(t.buckets, other.buckets, Bucket.Equal)
}
