package diff

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/geoforge/revtree/builder"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
	"github.com/geoforge/revtree/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(name string) model.Node {
	return featureV(name, 0)
}

// featureV is a feature whose contents change with 'version'
func featureV(name string, version int) model.Node {
	env := model.NewEnvelope(0, 0, 1, 1)
	return model.NewFeatureNode(name, model.HashBytes(fmt.Appendf(nil, "%s@%d", name, version)), &env)
}

func names(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("f%05d", i))
	}
	return out
}

// edit builds base plus the given puts and removals
func edit(t *testing.T, store storage.ObjectStore, base *model.RevTree, puts []model.Node, removes []string) *model.RevTree {
	b := builder.NewCanonicalTreeBuilder(store, base, nil)
	for _, n := range puts {
		require.NoError(t, b.Put(n))
	}
	for _, name := range removes {
		require.NoError(t, b.Remove(name))
	}
	tree, err := b.Build(context.Background())
	require.NoError(t, err)
	return tree
}

func features(names []string) []model.Node {
	out := make([]model.Node, len(names))
	for i, n := range names {
		out[i] = feature(n)
	}
	return out
}

func collect(t *testing.T, store storage.ObjectStore, left, right *model.RevTree, opts *Options) []DiffEntry {
	var c ChangeCollector
	require.NoError(t, NewPreOrderDiffWalk(left, right, store, store, opts).Walk(context.Background(), &c))
	return c.Entries()
}

func summarize(entries []DiffEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Type.String() + " " + e.Path
	}
	return out
}

// tracer records every callback, in order
type tracer struct {
	lk     sync.Mutex
	events []string
}

func (tr *tracer) record(s string) {
	tr.lk.Lock()
	defer tr.lk.Unlock()
	tr.events = append(tr.events, s)
}

func pathOf(l, r *NodeRef) string {
	if l != nil {
		return l.Path()
	}
	return r.Path()
}

func (tr *tracer) Tree(l, r *NodeRef) bool {
	tr.record("tree:" + pathOf(l, r))
	return true
}

func (tr *tracer) EndTree(l, r *NodeRef) {
	tr.record("endtree:" + pathOf(l, r))
}

func (tr *tracer) Bucket(lp, rp *NodeRef, idx BucketIndex, l, r *model.Bucket) bool {
	tr.record("bucket:" + idx.String())
	return true
}

func (tr *tracer) EndBucket(lp, rp *NodeRef, idx BucketIndex, l, r *model.Bucket) {
	tr.record("endbucket:" + idx.String())
}

func (tr *tracer) Feature(l, r *NodeRef) bool {
	tr.record("feature:" + pathOf(l, r))
	return true
}

// countingStore counts reads
type countingStore struct {
	storage.ObjectStore
	gets atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	s.gets.Add(1)
	return s.ObjectStore.Get(ctx, id)
}

func TestEqualTrees(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	tree := edit(t, store, nil, features(names(0, 1000)), nil)
	var tr tracer
	err := NewPreOrderDiffWalk(tree, tree, store, store, nil).Walk(context.Background(), &tr)
	assert.NoError(err)
	assert.Empty(tr.events)

	err = NewPreOrderDiffWalk(model.EmptyTree, nil, store, store, nil).Walk(context.Background(), &tr)
	assert.NoError(err)
	assert.Empty(tr.events)
}

func TestLeafDiff(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	left := edit(t, store, nil, features([]string{"a", "b", "c"}), nil)
	right := edit(t, store, left, []model.Node{featureV("b", 1), feature("d")}, []string{"a"})

	entries := collect(t, store, left, right, nil)
	assert.Equal([]string{"D a", "M b", "A d"}, summarize(entries))
	assert.Nil(entries[0].Right)
	assert.Equal("a", entries[0].Left.Name)
	assert.Equal(featureV("b", 1).Id, entries[1].Right.Id)
	assert.Equal(feature("b").Id, entries[1].Left.Id)
	assert.Nil(entries[2].Left)

	// swapping sides swaps additions and removals
	swapped := collect(t, store, right, left, nil)
	assert.Equal([]string{"A a", "M b", "D d"}, summarize(swapped))
	assert.Equal(entries[1].Left.Id, swapped[1].Right.Id)
	assert.Equal(entries[1].Right.Id, swapped[1].Left.Id)

	// against nothing
	assert.Equal([]string{"A a", "A b", "A c"}, summarize(collect(t, store, nil, left, nil)))
	assert.Equal([]string{"D a", "D b", "D c"}, summarize(collect(t, store, left, model.EmptyTree, nil)))
}

func TestCallbackOrder(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	left := edit(t, store, nil, features(names(0, 3000)), nil)
	right := edit(t, store, left, []model.Node{featureV("f00010", 1)}, nil)
	require.Equal(t, model.BucketTree, right.Kind())

	var tr tracer
	err := NewPreOrderDiffWalk(left, right, store, store, &Options{Concurrency: 1}).Walk(context.Background(), &tr)
	assert.NoError(err)

	idx := BucketIndex{model.BucketIndex("f00010", 0)}.String()
	assert.Equal([]string{
		"tree:",
		"bucket:" + idx,
		"feature:f00010",
		"endbucket:" + idx,
		"endtree:",
	}, tr.events)
}

func TestUnchangedBucketsAreNotLoaded(t *testing.T) {
	assert := assert.New(t)
	mem := memstore.NewMemstore()

	left := edit(t, mem, nil, features(names(0, 3000)), nil)
	right := edit(t, mem, left, []model.Node{featureV("f01234", 1)}, nil)

	store := &countingStore{ObjectStore: mem}
	var c CountingConsumer
	err := NewPreOrderDiffWalk(left, right, store, store, nil).Walk(context.Background(), &c)
	assert.NoError(err)
	assert.Equal(int64(1), c.Modified.Load())
	assert.Equal(int64(1), c.Features())
	assert.Equal(int64(1), c.Buckets.Load())

	// one shard per side
	assert.Equal(int64(2), store.gets.Load())
}

func TestLeafAgainstBuckets(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	small := edit(t, store, nil, features(names(0, 100)), nil)
	large := edit(t, store, small, features(names(100, 600)), nil)
	require.Equal(t, model.LeafTree, small.Kind())
	require.Equal(t, model.BucketTree, large.Kind())

	var c CountingConsumer
	assert.NoError(NewPreOrderDiffWalk(small, large, store, store, nil).Walk(context.Background(), &c))
	assert.Equal(int64(500), c.Added.Load())
	assert.Equal(int64(500), c.Features())

	var rc CountingConsumer
	assert.NoError(NewPreOrderDiffWalk(large, small, store, store, nil).Walk(context.Background(), &rc))
	assert.Equal(int64(500), rc.Removed.Load())
	assert.Equal(int64(500), rc.Features())

	entries := collect(t, store, small, large, nil)
	require.Len(t, entries, 500)
	assert.Equal("A f00100", summarize(entries)[0])
	assert.Equal("A f00599", summarize(entries)[499])
}

// mixedTree holds the same features as a canonical build of 'names', with one feature per shard kept at the top level
func mixedTree(t *testing.T, store storage.ObjectStore, names []string) *model.RevTree {
	ctx := context.Background()
	var loose []model.Node
	var buckets []model.Bucket
	for idx, part := range model.PartitionNodes(features(names), 0) {
		loose = append(loose, part[0])
		if len(part) == 1 {
			continue
		}
		shard, err := model.NewLeafTree(int64(len(part)-1), 0, nil, part[1:])
		require.NoError(t, err)
		_, err = store.Put(ctx, shard)
		require.NoError(t, err)
		buckets = append(buckets, model.Bucket{Index: idx, Id: shard.Id(), Bounds: model.BoundsOf(shard)})
	}
	tree, err := model.NewMixedTree(int64(len(names)), 0, nil, loose, buckets)
	require.NoError(t, err)
	_, err = store.Put(ctx, tree)
	require.NoError(t, err)
	return tree
}

func TestMixedAgainstCanonical(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	mixed := mixedTree(t, store, names(0, 600))
	canonical := edit(t, store, nil, features(names(0, 600)), nil)
	require.Equal(t, model.MixedTree, mixed.Kind())
	require.NotEqual(t, mixed.Id(), canonical.Id())

	// same contents, different shapes
	assert.Empty(collect(t, store, mixed, canonical, nil))
	assert.Empty(collect(t, store, canonical, mixed, nil))

	changed := edit(t, store, canonical, []model.Node{featureV("f00042", 1), feature("new")}, []string{"f00100"})
	assert.Equal([]string{"M f00042", "D f00100", "A new"}, summarize(collect(t, store, mixed, changed, nil)))
	assert.Equal([]string{"M f00042", "A f00100", "D new"}, summarize(collect(t, store, changed, mixed, nil)))
}

// nested builds a root holding a "roads" tree and a "x" feature
func nested(t *testing.T, store storage.ObjectStore, roads []model.Node) (*model.RevTree, *model.RevTree) {
	sub := edit(t, store, nil, roads, nil)
	root := edit(t, store, nil, []model.Node{
		model.NewTreeNode("roads", sub.Id(), model.NullId, model.BoundsOf(sub)),
		feature("x"),
	}, nil)
	return root, sub
}

func TestNestedTrees(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	left, _ := nested(t, store, features([]string{"r1", "r2", "r3", "r4", "r5"}))
	right, _ := nested(t, store, []model.Node{feature("r1"), feature("r2"), feature("r3"), featureV("r4", 1), feature("r5")})

	assert.Equal([]string{"M roads/r4"}, summarize(collect(t, store, left, right, nil)))

	c := ChangeCollector{IncludeTrees: true}
	assert.NoError(NewPreOrderDiffWalk(left, right, store, store, nil).Walk(context.Background(), &c))
	assert.Equal([]string{"M roads", "M roads/r4"}, summarize(c.Entries()))

	// a whole tree added
	entries := collect(t, store, model.EmptyTree, left, nil)
	assert.Equal([]string{"A roads/r1", "A roads/r2", "A roads/r3", "A roads/r4", "A roads/r5", "A x"}, summarize(entries))
	assert.Equal("r1", entries[0].Right.Name)
	assert.Equal("roads", entries[0].Path[:5])

	// a tree replaced by a feature of the same name
	replaced := edit(t, store, left, []model.Node{feature("roads")}, nil)
	entries = collect(t, store, left, replaced, nil)
	assert.Equal([]string{"A roads", "D roads/r1", "D roads/r2", "D roads/r3", "D roads/r4", "D roads/r5"}, summarize(entries))

	c = ChangeCollector{IncludeTrees: true}
	assert.NoError(NewPreOrderDiffWalk(left, replaced, store, store, nil).Walk(context.Background(), &c))
	assert.Equal([]string{"D roads", "A roads"}, summarize(c.Entries())[:2])
}

// pruner declines to descend into the given tree path, or into any bucket
type pruner struct {
	ChangeCollector
	// path of the tree to decline, "" to decline none (the root path is also "")
	skipTree    string
	skipBuckets bool

	ended   atomic.Int64
	buckets atomic.Int64
	endedB  atomic.Int64
}

func (p *pruner) skips(l, r *NodeRef) bool {
	return p.skipTree != "" && pathOf(l, r) == p.skipTree
}

func (p *pruner) Tree(l, r *NodeRef) bool {
	return !p.skips(l, r)
}

func (p *pruner) EndTree(l, r *NodeRef) {
	if p.skips(l, r) {
		p.ended.Add(1)
	}
}

func (p *pruner) Bucket(lp, rp *NodeRef, idx BucketIndex, l, r *model.Bucket) bool {
	p.buckets.Add(1)
	return !p.skipBuckets
}

func (p *pruner) EndBucket(lp, rp *NodeRef, idx BucketIndex, l, r *model.Bucket) {
	p.endedB.Add(1)
}

func TestPruning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := memstore.NewMemstore()

	left, _ := nested(t, store, features([]string{"r1", "r2"}))
	right, _ := nested(t, store, []model.Node{featureV("r1", 1), feature("r3")})
	right = edit(t, store, right, []model.Node{featureV("x", 1)}, nil)

	p := &pruner{skipTree: "roads"}
	assert.NoError(NewPreOrderDiffWalk(left, right, store, store, nil).Walk(ctx, p))
	assert.Equal([]string{"M x"}, summarize(p.Entries()))
	assert.Equal(int64(1), p.ended.Load())

	// buckets
	big := edit(t, store, nil, features(names(0, 3000)), nil)
	var puts []model.Node
	for i := 0; i < 3000; i += 25 {
		puts = append(puts, featureV(fmt.Sprintf("f%05d", i), 1))
	}
	changed := edit(t, store, big, puts, nil)

	p = &pruner{skipBuckets: true}
	assert.NoError(NewPreOrderDiffWalk(big, changed, store, store, nil).Walk(ctx, p))
	assert.Empty(p.Entries())
	assert.Positive(p.buckets.Load())
	assert.Equal(p.buckets.Load(), p.endedB.Load())

	p = &pruner{}
	assert.NoError(NewPreOrderDiffWalk(big, changed, store, store, nil).Walk(ctx, p))
	assert.Len(p.Entries(), len(puts))
	assert.Equal(p.buckets.Load(), p.endedB.Load())
}

func TestLimiter(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()
	tree := edit(t, store, nil, features(names(0, 3000)), nil)

	var c ChangeCollector
	limiter := NewMaxFeatureDiffsLimiter(&c, 10)
	err := NewPreOrderDiffWalk(nil, tree, store, store, nil).Walk(context.Background(), limiter)
	assert.ErrorIs(err, ErrWalkCancelled)
	assert.Len(c.Entries(), 10)

	// not reached
	c = ChangeCollector{}
	limiter = NewMaxFeatureDiffsLimiter(&c, 3000)
	assert.NoError(NewPreOrderDiffWalk(nil, tree, store, store, nil).Walk(context.Background(), limiter))
	assert.Len(c.Entries(), 3000)
}

type cancelOnFirst struct {
	ChangeCollector
	walk *PreOrderDiffWalk
}

func (c *cancelOnFirst) Feature(l, r *NodeRef) bool {
	c.walk.Cancel()
	return c.ChangeCollector.Feature(l, r)
}

type cancelAfterFirst struct {
	ChangeCollector
	cc *CancellableConsumer
}

func (c *cancelAfterFirst) Feature(l, r *NodeRef) bool {
	c.cc.Cancel()
	return c.ChangeCollector.Feature(l, r)
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()
	tree := edit(t, store, nil, features(names(0, 3000)), nil)

	w := NewPreOrderDiffWalk(nil, tree, store, store, &Options{Concurrency: 1})
	c := &cancelOnFirst{walk: w}
	assert.ErrorIs(w.Walk(context.Background(), c), ErrWalkCancelled)
	assert.Len(c.Entries(), 1)

	// cancelled before the walk, the root is pruned
	var col ChangeCollector
	cc := NewCancellableConsumer(&col)
	cc.Cancel()
	assert.NoError(NewPreOrderDiffWalk(nil, tree, store, store, nil).Walk(context.Background(), cc))
	assert.Empty(col.Entries())

	// cancelled during the walk, the next feature stops it
	ca := &cancelAfterFirst{}
	ca.cc = NewCancellableConsumer(ca)
	assert.ErrorIs(NewPreOrderDiffWalk(nil, tree, store, store, &Options{Concurrency: 1}).Walk(context.Background(), ca.cc), ErrWalkCancelled)
	assert.Len(ca.Entries(), 1)
	assert.True(ca.cc.IsCancelled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var tr tracer
	assert.ErrorIs(NewPreOrderDiffWalk(nil, tree, store, store, nil).Walk(ctx, &tr), ErrWalkCancelled)
	assert.Empty(tr.events)
}

func TestMissingTree(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := memstore.NewMemstore()

	left := edit(t, store, nil, features(names(0, 3000)), nil)
	right := edit(t, store, left, []model.Node{featureV("f00500", 1)}, nil)

	idx := model.BucketIndex("f00500", 0)
	b, ok := right.Bucket(idx)
	require.True(t, ok)
	deleted, err := store.Delete(ctx, b.Id)
	require.NoError(t, err)
	require.True(t, deleted)

	var c ChangeCollector
	err = NewPreOrderDiffWalk(left, right, store, store, nil).Walk(ctx, &c)
	assert.ErrorIs(err, storage.ErrNotFound)
	assert.NotErrorIs(err, ErrWalkCancelled)
}

func TestSeparateStores(t *testing.T) {
	assert := assert.New(t)
	ls, rs := memstore.NewMemstore(), memstore.NewMemstore()

	left := edit(t, ls, nil, features(names(0, 1000)), nil)
	right := edit(t, rs, nil, features(names(10, 1000)), nil)

	entries := collect2(t, ls, rs, left, right)
	require.Len(t, entries, 10)
	for _, e := range entries {
		assert.Equal(Removed, e.Type)
	}
}

func collect2(t *testing.T, ls, rs storage.ObjectStore, left, right *model.RevTree) []DiffEntry {
	var c ChangeCollector
	require.NoError(t, NewPreOrderDiffWalk(left, right, ls, rs, nil).Walk(context.Background(), &c))
	return c.Entries()
}

func TestParallelEqualsSequential(t *testing.T) {
	assert := assert.New(t)
	store := memstore.NewMemstore()

	left := edit(t, store, nil, features(names(0, 5000)), nil)
	var puts []model.Node
	for _, name := range names(300, 600) {
		puts = append(puts, featureV(name, 1))
	}
	puts = append(puts, features(names(5000, 5400))...)
	right := edit(t, store, left, puts, names(0, 300))

	seq := collect(t, store, left, right, &Options{Concurrency: 1})
	par := collect(t, store, left, right, &Options{Concurrency: 8})
	assert.Equal(seq, par)

	counts := map[ChangeType]int{}
	for _, e := range par {
		counts[e.Type]++
	}
	assert.Equal(map[ChangeType]int{Added: 400, Modified: 300, Removed: 300}, counts)
	for _, e := range par {
		assert.True(strings.HasPrefix(e.Path, "f"))
	}
}
