// Package builder creates new trees by applying edits to an existing one, always producing the canonical shape for the resulting contents.
//
// The canonical shape of a set of nodes at depth d is a flat leaf when there are at most model.NormalizedSizeLimit(d) of them (or d has reached model.MaxDepth), and otherwise a bucketed tree whose bucket i is the canonical tree, at depth d+1, of the nodes with model.BucketIndex(name, d) == i. Since the shape only depends on the contents, so does the id: applying the same net edits to the same base always yields the same tree, however they were ordered or batched.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var ErrBuilderConsumed = errors.New("tree builder already built")

// Below this many ids, bulk loads are not split across goroutines
const minParallelLoad = 16

// CanonicalTreeBuilder accumulates edits on top of a base tree. It is not safe for concurrent use, and can only Build once.
type CanonicalTreeBuilder struct {
	store  storage.ObjectStore
	staged *stagedStore
	base   *model.RevTree
	opts   *Options
	log    *slog.Logger
	l      storage.BulkListener

	// nil value is a removal
	pending  map[string]*model.Node
	consumed bool

	// sizes of nested trees referenced by tree nodes
	weights map[model.ObjectId]weight
}

type weight struct {
	size     int64
	numTrees int
}

// NewCanonicalTreeBuilder starts a builder on top of 'base'; a nil base means the empty tree.
func NewCanonicalTreeBuilder(store storage.ObjectStore, base *model.RevTree, opts *Options) *CanonicalTreeBuilder {
	if opts == nil {
		opts = DefaultOptions()
	}
	if base == nil {
		base = model.EmptyTree
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CanonicalTreeBuilder{
		store:   store,
		staged:  newStagedStore(store),
		base:    base,
		opts:    opts,
		log:     log.With("system", "builder"),
		l:       storage.ListenerOrNop(opts.Listener),
		pending: make(map[string]*model.Node),
		weights: make(map[model.ObjectId]weight),
	}
}

// Put adds or replaces the node with the same name. A node may replace one of the other type.
func (b *CanonicalTreeBuilder) Put(node model.Node) error {
	if b.consumed {
		return ErrBuilderConsumed
	}
	if err := node.Validate(); err != nil {
		return err
	}
	n := node
	n.Extra = maps.Clone(node.Extra)
	if node.Bounds != nil {
		bounds := *node.Bounds
		n.Bounds = &bounds
	}
	b.pending[n.Name] = &n
	return nil
}

// Remove drops the node with the given name. Removing a name that is not present is not an error.
func (b *CanonicalTreeBuilder) Remove(name string) error {
	if b.consumed {
		return ErrBuilderConsumed
	}
	if name == "" {
		return fmt.Errorf("%w: empty name", model.ErrInvalidNode)
	}
	b.pending[name] = nil
	return nil
}

// NumPending returns the number of names with a pending put or removal.
func (b *CanonicalTreeBuilder) NumPending() int {
	return len(b.pending)
}

// Build applies all pending edits, writes every new tree to the store, and returns the new root. The builder can not be used again afterwards, even if Build fails.
func (b *CanonicalTreeBuilder) Build(ctx context.Context) (*model.RevTree, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	ctx, span := otel.Tracer("builder").Start(ctx, "Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("base", b.base.Id().String()),
		attribute.Int("pending", len(b.pending)),
	)

	start := time.Now()
	t, written, err := b.build(ctx)
	buildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, err
	}
	buildsTotal.WithLabelValues("ok").Inc()
	treesWritten.Add(float64(written))

	b.log.Debug("built tree", "base", b.base.Id(), "root", t.Id(), "kind", t.Kind(), "size", t.Size(), "changes", len(b.pending), "written", written, "duration", time.Since(start))
	return t, nil
}

func (b *CanonicalTreeBuilder) build(ctx context.Context) (*model.RevTree, int, error) {
	changes := make([]change, 0, len(b.pending))
	for name, n := range b.pending {
		changes = append(changes, change{name: name, node: n})
	}
	slices.SortFunc(changes, func(a, b change) int { return model.CompareNames(a.name, b.name) })

	root, err := b.run(ctx, &frame{base: b.base, changes: changes})
	if err != nil {
		return nil, 0, err
	}
	written, err := b.persist(ctx, root)
	if err != nil {
		return nil, 0, err
	}
	return root, written, nil
}

// persist writes the staged trees reachable from root, children before parents, then the root itself
func (b *CanonicalTreeBuilder) persist(ctx context.Context, root *model.RevTree) (int, error) {
	var order []*model.RevTree
	seen := make(map[model.ObjectId]bool)
	stack := []model.ObjectId{root.Id()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		t, ok := b.staged.lookup(id)
		if !ok {
			continue
		}
		order = append(order, t)
		for _, bucket := range t.Buckets() {
			stack = append(stack, bucket.Id)
		}
	}
	if len(order) == 0 || order[0].Id() != root.Id() {
		order = append([]*model.RevTree{root}, order...)
	}
	slices.Reverse(order)

	b.log.Debug("persisting trees", "reachable", len(order), "staged", b.staged.numStaged())
	return storage.PutAll(ctx, b.store, order, b.l)
}

// stage records a tree created by this build, returning the staged copy
func (b *CanonicalTreeBuilder) stage(t *model.RevTree) *model.RevTree {
	if t.IsEmpty() {
		return model.EmptyTree
	}
	b.staged.Put(context.Background(), t)
	return t
}

func (b *CanonicalTreeBuilder) getTree(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	return storage.GetTree(ctx, b.staged, id)
}

// makeLeaf builds a flat tree from sorted nodes
func (b *CanonicalTreeBuilder) makeLeaf(ctx context.Context, nodes []model.Node) (*model.RevTree, error) {
	size, numTrees, err := b.weigh(ctx, nodes)
	if err != nil {
		return nil, err
	}
	t, err := newLeaf(size, numTrees, nodes)
	if err != nil {
		return nil, err
	}
	return b.stage(t), nil
}

// weigh computes the recursive size and tree count of a set of direct nodes, loading the trees that tree nodes point to
func (b *CanonicalTreeBuilder) weigh(ctx context.Context, nodes []model.Node) (int64, int, error) {
	var missing []model.ObjectId
	for _, n := range nodes {
		if n.IsTree() {
			if _, ok := b.weights[n.Id]; !ok {
				missing = append(missing, n.Id)
			}
		}
	}
	if len(missing) > 0 {
		trees, err := b.loadTrees(ctx, missing)
		if err != nil {
			return 0, 0, err
		}
		for id, t := range trees {
			b.weights[id] = weight{size: t.Size(), numTrees: t.NumTrees()}
		}
	}

	var size int64
	var numTrees int
	for _, n := range nodes {
		if !n.IsTree() {
			size++
			continue
		}
		w := b.weights[n.Id]
		size += w.size
		numTrees += 1 + w.numTrees
	}
	return size, numTrees, nil
}

// loadTrees fetches trees through the staged view, fanning out over up to Options.Concurrency bulk reads. A missing id is an error.
func (b *CanonicalTreeBuilder) loadTrees(ctx context.Context, ids []model.ObjectId) (map[model.ObjectId]*model.RevTree, error) {
	width := b.opts.Concurrency
	if width <= 1 || len(ids) < minParallelLoad {
		return storage.GetTrees(ctx, b.staged, ids, b.l)
	}

	chunk := (len(ids) + width - 1) / width
	out := make(map[model.ObjectId]*model.RevTree, len(ids))
	var lk sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(width)
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]
		eg.Go(func() error {
			trees, err := storage.GetTrees(ctx, b.staged, part, b.l)
			if err != nil {
				return err
			}
			lk.Lock()
			maps.Copy(out, trees)
			lk.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
