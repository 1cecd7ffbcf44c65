package builder

import (
	"context"
	"fmt"
	"slices"

	"github.com/geoforge/revtree/model"
)

// change is a pending edit of one name; a nil node removes it
type change struct {
	name string
	node *model.Node
}

// frame is one tree under construction, at a given depth. A frame either builds from a complete sorted node list (base == nil), or applies sorted changes to an existing base tree.
//
// Frames that split in to buckets are visited twice: once to create their child frames, and again once every child has a result.
type frame struct {
	depth int

	nodes []model.Node

	base    *model.RevTree
	changes []change

	parent *frame
	slot   int

	expanded bool
	children []bucketResult
	result   *model.RevTree
}

// bucketResult is the outcome of one bucket of a splitting frame
type bucketResult struct {
	index int
	// base shard, nil if the bucket is new
	old  *model.RevTree
	tree *model.RevTree
}

// run drives the frames with an explicit stack, children before their parent
func (b *CanonicalTreeBuilder) run(ctx context.Context, root *frame) (*model.RevTree, error) {
	stack := []*frame{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.expanded {
			if err := b.finish(ctx, f); err != nil {
				return nil, err
			}
			f.complete()
			continue
		}

		kids, err := b.expand(ctx, f)
		if err != nil {
			return nil, err
		}
		if len(kids) == 0 {
			f.complete()
			continue
		}
		f.expanded = true
		stack = append(stack, f)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return root.result, nil
}

func (f *frame) complete() {
	if f.parent != nil {
		f.parent.children[f.slot].tree = f.result
	}
}

func (f *frame) child(k int, index int, old *model.RevTree) *frame {
	f.children = append(f.children, bucketResult{index: index, old: old})
	return &frame{
		depth:  f.depth + 1,
		parent: f,
		slot:   k,
	}
}

// expand either sets f.result directly, or returns the child frames f is waiting on
func (b *CanonicalTreeBuilder) expand(ctx context.Context, f *frame) ([]*frame, error) {
	if f.base != nil {
		if len(f.changes) == 0 {
			f.result = f.base
			return nil, nil
		}
		switch f.base.Kind() {
		case model.BucketTree:
			return b.expandBuckets(ctx, f)
		case model.MixedTree:
			all, err := collectNodes(ctx, b.staged, f.base)
			if err != nil {
				return nil, err
			}
			f.nodes = overlay(all, f.changes)
		default:
			f.nodes = overlay(f.base.ChildList(), f.changes)
		}
		f.base = nil
		f.changes = nil
	}

	if len(f.nodes) <= model.NormalizedSizeLimit(f.depth) || f.depth >= model.MaxDepth {
		t, err := b.makeLeaf(ctx, f.nodes)
		if err != nil {
			return nil, err
		}
		f.result = t
		return nil, nil
	}

	groups := model.PartitionNodes(f.nodes, f.depth)
	indexes := sortedKeys(groups)
	kids := make([]*frame, 0, len(indexes))
	for k, idx := range indexes {
		kid := f.child(k, idx, nil)
		kid.nodes = groups[idx]
		kids = append(kids, kid)
	}
	f.nodes = nil
	return kids, nil
}

// expandBuckets routes changes to the shards they belong to. Shards without changes are left alone, and never loaded.
func (b *CanonicalTreeBuilder) expandBuckets(ctx context.Context, f *frame) ([]*frame, error) {
	groups := make(map[int][]change)
	for _, c := range f.changes {
		idx := model.BucketIndex(c.name, f.depth)
		groups[idx] = append(groups[idx], c)
	}
	indexes := sortedKeys(groups)

	var load []model.ObjectId
	for _, idx := range indexes {
		if bucket, ok := f.base.Bucket(idx); ok {
			load = append(load, bucket.Id)
		}
	}
	shards, err := b.loadTrees(ctx, load)
	if err != nil {
		return nil, fmt.Errorf("loading shards of %s: %w", f.base.Id(), err)
	}

	var kids []*frame
	for _, idx := range indexes {
		if bucket, ok := f.base.Bucket(idx); ok {
			old := shards[bucket.Id]
			kid := f.child(len(kids), idx, old)
			kid.base = old
			kid.changes = groups[idx]
			kids = append(kids, kid)
			continue
		}
		var puts []model.Node
		for _, c := range groups[idx] {
			if c.node != nil {
				puts = append(puts, *c.node)
			}
		}
		if len(puts) == 0 {
			// only removals of names that are not there
			continue
		}
		kid := f.child(len(kids), idx, nil)
		kid.nodes = puts
		kids = append(kids, kid)
	}

	if len(kids) == 0 {
		f.result = f.base
		f.children = nil
	}
	return kids, nil
}

// finish assembles a bucketed tree from its finished children, collapsing it back to a leaf if it shrank enough
func (b *CanonicalTreeBuilder) finish(ctx context.Context, f *frame) error {
	if f.base == nil {
		var size int64
		var numTrees int
		buckets := make([]model.Bucket, 0, len(f.children))
		for _, c := range f.children {
			size += c.tree.Size()
			numTrees += c.tree.NumTrees()
			buckets = append(buckets, model.Bucket{Index: c.index, Id: c.tree.Id(), Bounds: model.BoundsOf(c.tree)})
		}
		t, err := model.NewBucketTree(size, numTrees, buckets)
		if err != nil {
			return err
		}
		f.result = b.stage(t)
		return nil
	}

	size := f.base.Size()
	numTrees := f.base.NumTrees()
	changed := make(map[int]bool, len(f.children))
	known := make(map[model.ObjectId]*model.RevTree, len(f.children))
	var buckets []model.Bucket
	for _, c := range f.children {
		changed[c.index] = true
		if c.old != nil {
			size -= c.old.Size()
			numTrees -= c.old.NumTrees()
		}
		if c.tree.IsEmpty() {
			continue
		}
		size += c.tree.Size()
		numTrees += c.tree.NumTrees()
		known[c.tree.Id()] = c.tree
		buckets = append(buckets, model.Bucket{Index: c.index, Id: c.tree.Id(), Bounds: model.BoundsOf(c.tree)})
	}
	for _, bucket := range f.base.Buckets() {
		if !changed[bucket.Index] {
			buckets = append(buckets, bucket)
		}
	}

	if len(buckets) == 0 {
		f.result = model.EmptyTree
		return nil
	}

	collapse, err := b.shouldCollapse(ctx, f.depth, size, numTrees, buckets, known)
	if err != nil {
		return err
	}
	var t *model.RevTree
	if collapse {
		var nodes []model.Node
		for _, bucket := range buckets {
			shard, ok := known[bucket.Id]
			if !ok {
				shard, err = b.getTree(ctx, bucket.Id)
				if err != nil {
					return err
				}
			}
			sub, err := collectNodes(ctx, b.staged, shard)
			if err != nil {
				return err
			}
			nodes = append(nodes, sub...)
		}
		model.SortNodes(nodes)
		t, err = newLeaf(size, numTrees, nodes)
	} else {
		t, err = model.NewBucketTree(size, numTrees, buckets)
	}
	if err != nil {
		return err
	}
	if t.Id() == f.base.Id() {
		f.result = f.base
		return nil
	}
	f.result = b.stage(t)
	return nil
}

// shouldCollapse reports whether a tree at 'depth' with the given buckets holds few enough direct nodes to be a leaf.
func (b *CanonicalTreeBuilder) shouldCollapse(ctx context.Context, depth int, size int64, numTrees int, buckets []model.Bucket, known map[model.ObjectId]*model.RevTree) (bool, error) {
	limit := model.NormalizedSizeLimit(depth)
	if depth >= model.MaxDepth {
		return true, nil
	}
	// without nested trees, every feature is a direct node
	if numTrees == 0 {
		return size <= int64(limit), nil
	}
	if size+int64(numTrees) <= int64(limit) {
		return true, nil
	}

	count := 0
	for _, bucket := range buckets {
		shard, ok := known[bucket.Id]
		if !ok {
			var err error
			shard, err = b.getTree(ctx, bucket.Id)
			if err != nil {
				return false, err
			}
		}
		n, err := b.countNodes(ctx, shard, limit-count)
		if err != nil {
			return false, err
		}
		count += n
		if count > limit {
			return false, nil
		}
	}
	return true, nil
}

// countNodes counts the nodes of a tree (direct and through buckets), stopping early once past max
func (b *CanonicalTreeBuilder) countNodes(ctx context.Context, t *model.RevTree, max int) (int, error) {
	if t.NumTrees() == 0 {
		return int(t.Size()), nil
	}
	n := t.NumDirectNodes()
	for _, bucket := range t.Buckets() {
		if n > max {
			break
		}
		shard, err := b.getTree(ctx, bucket.Id)
		if err != nil {
			return 0, err
		}
		c, err := b.countNodes(ctx, shard, max-n)
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n, nil
}

// overlay applies sorted changes to sorted nodes. A change replaces a node of the same name whatever its type.
func overlay(nodes []model.Node, changes []change) []model.Node {
	out := make([]model.Node, 0, len(nodes)+len(changes))
	i, j := 0, 0
	for i < len(nodes) || j < len(changes) {
		switch {
		case j >= len(changes):
			out = append(out, nodes[i])
			i++
		case i >= len(nodes):
			if changes[j].node != nil {
				out = append(out, *changes[j].node)
			}
			j++
		default:
			cmp := model.CompareNames(nodes[i].Name, changes[j].name)
			if cmp < 0 {
				out = append(out, nodes[i])
				i++
				continue
			}
			if changes[j].node != nil {
				out = append(out, *changes[j].node)
			}
			if cmp == 0 {
				i++
			}
			j++
		}
	}
	return out
}

func newLeaf(size int64, numTrees int, nodes []model.Node) (*model.RevTree, error) {
	var trees, features []model.Node
	for _, n := range nodes {
		if n.IsTree() {
			trees = append(trees, n)
		} else {
			features = append(features, n)
		}
	}
	return model.NewTree(size, numTrees, trees, features, nil)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
