// Package diff compares two trees, reporting differences to a Consumer in pre-order: a tree (or bucket) is reported before its contents.
//
// Identical subtrees are detected by id and never loaded. Trees of different shapes (a leaf against a bucketed tree, at any level) are compared by re-partitioning the flat side on the fly, so callers only ever see named nodes.
package diff

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Returned by Walk when it was stopped early: by a consumer, Cancel, or the context. It is not a failure.
var ErrWalkCancelled = errors.New("diff walk cancelled")

type Options struct {
	// Max number of goroutines comparing subtrees at once. 1 means everything runs on the calling goroutine, and callbacks arrive in a deterministic order.
	Concurrency int

	Logger *slog.Logger
}

func DefaultOptions() *Options {
	return &Options{
		Concurrency: 4,
	}
}

// PreOrderDiffWalk compares a left and a right tree, which may live in different stores.
type PreOrderDiffWalk struct {
	left       *model.RevTree
	right      *model.RevTree
	leftStore  storage.ObjectStore
	rightStore storage.ObjectStore
	opts       *Options
	log        *slog.Logger

	sem       *semaphore.Weighted
	cancelled atomic.Bool

	failLk  sync.Mutex
	failure error
}

func NewPreOrderDiffWalk(left, right *model.RevTree, leftStore, rightStore storage.ObjectStore, opts *Options) *PreOrderDiffWalk {
	if opts == nil {
		opts = DefaultOptions()
	}
	if left == nil {
		left = model.EmptyTree
	}
	if right == nil {
		right = model.EmptyTree
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	width := max(opts.Concurrency, 1)
	return &PreOrderDiffWalk{
		left:       left,
		right:      right,
		leftStore:  leftStore,
		rightStore: rightStore,
		opts:       opts,
		log:        log.With("system", "diff"),
		// the calling goroutine is the first worker
		sem: semaphore.NewWeighted(int64(width - 1)),
	}
}

// Cancel stops the walk. Work already handed to a consumer callback finishes; nothing new is started.
func (w *PreOrderDiffWalk) Cancel() {
	w.cancelled.Store(true)
}

func (w *PreOrderDiffWalk) stopped(ctx context.Context) bool {
	return w.cancelled.Load() || ctx.Err() != nil
}

// fail records the first real error and stops all other work
func (w *PreOrderDiffWalk) fail(err error) {
	w.cancelled.Store(true)
	if errors.Is(err, ErrWalkCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	w.failLk.Lock()
	defer w.failLk.Unlock()
	if w.failure == nil {
		w.failure = err
	}
}

// Walk runs the comparison, returning once every callback has returned. The result is nil, ErrWalkCancelled, or the first error hit (eg, wrapping storage.ErrNotFound for a missing tree).
func (w *PreOrderDiffWalk) Walk(ctx context.Context, c Consumer) error {
	ctx, span := otel.Tracer("diff").Start(ctx, "Walk")
	defer span.End()
	span.SetAttributes(
		attribute.String("left", w.left.Id().String()),
		attribute.String("right", w.right.Id().String()),
	)

	if w.left.Id() == w.right.Id() {
		walksTotal.WithLabelValues("equal").Inc()
		return nil
	}

	lroot := &NodeRef{Node: model.RootNode(w.left.Id())}
	rroot := &NodeRef{Node: model.RootNode(w.right.Id())}

	err := w.visitTree(ctx, c, lroot, rroot, func() (*model.RevTree, *model.RevTree, error) {
		return w.left, w.right, nil
	})
	if err != nil {
		w.fail(err)
	}

	w.failLk.Lock()
	failure := w.failure
	w.failLk.Unlock()
	switch {
	case failure != nil:
		walksTotal.WithLabelValues("error").Inc()
		span.RecordError(failure)
		w.log.Warn("diff walk failed", "left", w.left.Id(), "right", w.right.Id(), "err", failure)
		return failure
	case w.stopped(ctx):
		walksTotal.WithLabelValues("cancelled").Inc()
		return ErrWalkCancelled
	}
	walksTotal.WithLabelValues("ok").Inc()
	return nil
}

// visitTree reports a pair of trees and, unless the consumer declines, loads and compares their contents
func (w *PreOrderDiffWalk) visitTree(ctx context.Context, c Consumer, l, r *NodeRef, load func() (*model.RevTree, *model.RevTree, error)) error {
	if w.stopped(ctx) {
		return ErrWalkCancelled
	}
	callbacks.WithLabelValues("tree").Inc()
	if c.Tree(l, r) {
		lt, rt, err := load()
		if err != nil {
			return err
		}
		if lt.Id() != rt.Id() {
			if err := w.compare(ctx, c, l, r, nil, sideOf(lt), sideOf(rt)); err != nil {
				return err
			}
		}
	}
	if w.stopped(ctx) {
		return ErrWalkCancelled
	}
	c.EndTree(l, r)
	return nil
}

// side is what one tree (or one bucket's worth of a tree) holds at some level
type side struct {
	nodes   []model.Node
	buckets []model.Bucket
}

func sideOf(t *model.RevTree) side {
	return side{nodes: t.ChildList(), buckets: t.Buckets()}
}

func (s side) bucket(index int) (model.Bucket, bool) {
	for _, b := range s.buckets {
		if b.Index == index {
			return b, true
		}
	}
	return model.Bucket{}, false
}

// compare diffs the contents of two trees at the same bucket path. lp and rp are the refs of the named trees being compared.
func (w *PreOrderDiffWalk) compare(ctx context.Context, c Consumer, lp, rp *NodeRef, path BucketIndex, l, r side) error {
	if len(l.buckets) == 0 && len(r.buckets) == 0 {
		return w.compareNodes(ctx, c, lp, rp, l.nodes, r.nodes)
	}

	depth := path.Depth()
	lparts := model.PartitionNodes(l.nodes, depth)
	rparts := model.PartitionNodes(r.nodes, depth)
	indexes := make(map[int]bool)
	for _, m := range []map[int][]model.Node{lparts, rparts} {
		for idx := range m {
			indexes[idx] = true
		}
	}
	for _, s := range []side{l, r} {
		for _, b := range s.buckets {
			indexes[b.Index] = true
		}
	}

	g := w.group(ctx)
	for _, idx := range sortedIndexes(indexes) {
		lb, lok := l.bucket(idx)
		rb, rok := r.bucket(idx)
		lnodes, rnodes := lparts[idx], rparts[idx]
		loose := len(lnodes) > 0 || len(rnodes) > 0
		bpath := path.Append(idx)

		switch {
		case lok && rok && lb.Id == rb.Id && !loose:
			continue

		case !lok && !rok:
			g.spawn(func() error {
				return w.compareNodes(ctx, c, lp, rp, lnodes, rnodes)
			})

		case !loose:
			var lbp, rbp *model.Bucket
			if lok {
				lbp = &lb
			}
			if rok {
				rbp = &rb
			}
			if !g.ok() {
				break
			}
			callbacks.WithLabelValues("bucket").Inc()
			descend := c.Bucket(lp, rp, bpath, lbp, rbp)
			g.spawn(func() error {
				if descend {
					lt, rt, err := w.loadBuckets(ctx, lbp, rbp)
					if err != nil {
						return err
					}
					if err := w.compare(ctx, c, lp, rp, bpath, sideOf(lt), sideOf(rt)); err != nil {
						return err
					}
				}
				if w.stopped(ctx) {
					return ErrWalkCancelled
				}
				c.EndBucket(lp, rp, bpath, lbp, rbp)
				return nil
			})

		default:
			// one side is flat at this level: compare its nodes against the other side's shard
			var lbp, rbp *model.Bucket
			if lok {
				lbp = &lb
			}
			if rok {
				rbp = &rb
			}
			g.spawn(func() error {
				lt, rt, err := w.loadBuckets(ctx, lbp, rbp)
				if err != nil {
					return err
				}
				ls, rs := sideOf(lt), sideOf(rt)
				ls.nodes = model.MergeNodes(ls.nodes, lnodes)
				rs.nodes = model.MergeNodes(rs.nodes, rnodes)
				return w.compare(ctx, c, lp, rp, bpath, ls, rs)
			})
		}
	}
	return g.wait()
}

// compareNodes merges two canonically sorted node lists, reporting every difference
func (w *PreOrderDiffWalk) compareNodes(ctx context.Context, c Consumer, lp, rp *NodeRef, lnodes, rnodes []model.Node) error {
	g := w.group(ctx)
	i, j := 0, 0
	for (i < len(lnodes) || j < len(rnodes)) && g.ok() {
		var cmp int
		switch {
		case i >= len(lnodes):
			cmp = 1
		case j >= len(rnodes):
			cmp = -1
		default:
			cmp = model.CanonicalNodeOrder(lnodes[i], rnodes[j])
		}

		switch {
		case cmp < 0:
			w.report(g, c, newRef(lnodes[i], lp), nil)
			i++
		case cmp > 0:
			w.report(g, c, nil, newRef(rnodes[j], rp))
			j++
		default:
			ln, rn := lnodes[i], rnodes[j]
			i++
			j++
			if ln.Equal(rn) {
				continue
			}
			if ln.Type != rn.Type {
				w.report(g, c, newRef(ln, lp), nil)
				w.report(g, c, nil, newRef(rn, rp))
				continue
			}
			w.report(g, c, newRef(ln, lp), newRef(rn, rp))
		}
	}
	return g.wait()
}

// report hands one differing pair of the same type to the consumer. Trees are descended in to as a separate task.
func (w *PreOrderDiffWalk) report(g *group, c Consumer, l, r *NodeRef) {
	if !g.ok() {
		return
	}
	ref := l
	if ref == nil {
		ref = r
	}
	if ref.Node.IsFeature() {
		callbacks.WithLabelValues("feature").Inc()
		if !c.Feature(l, r) {
			g.stop()
		}
		return
	}
	var lid, rid *model.ObjectId
	if l != nil {
		lid = &l.Node.Id
	}
	if r != nil {
		rid = &r.Node.Id
	}
	if lid != nil && rid != nil && *lid == *rid {
		// same contents, only the node itself changed
		lid, rid = nil, nil
	}
	g.spawn(func() error {
		return w.visitTree(g.ctx, c, l, r, func() (*model.RevTree, *model.RevTree, error) {
			return w.loadTrees(g.ctx, lid, rid)
		})
	})
}

func (w *PreOrderDiffWalk) loadBuckets(ctx context.Context, l, r *model.Bucket) (*model.RevTree, *model.RevTree, error) {
	var lid, rid *model.ObjectId
	if l != nil {
		lid = &l.Id
	}
	if r != nil {
		rid = &r.Id
	}
	return w.loadTrees(ctx, lid, rid)
}

// loadTrees fetches the left and right trees of a pair; an absent side is the empty tree
func (w *PreOrderDiffWalk) loadTrees(ctx context.Context, lid, rid *model.ObjectId) (*model.RevTree, *model.RevTree, error) {
	lt, rt := model.EmptyTree, model.EmptyTree
	var err error
	if lid != nil {
		if lt, err = storage.GetTree(ctx, w.leftStore, *lid); err != nil {
			return nil, nil, err
		}
	}
	if rid != nil {
		if rt, err = storage.GetTree(ctx, w.rightStore, *rid); err != nil {
			return nil, nil, err
		}
	}
	return lt, rt, nil
}

// group is one fork/join point. Tasks run on a new goroutine when the walk has a free worker, and inline otherwise, so a full pool never blocks progress.
type group struct {
	w   *PreOrderDiffWalk
	ctx context.Context
	eg  errgroup.Group
	err error
}

func (w *PreOrderDiffWalk) group(ctx context.Context) *group {
	return &group{w: w, ctx: ctx}
}

// ok reports whether new work may still be started
func (g *group) ok() bool {
	if g.err != nil {
		return false
	}
	if g.w.stopped(g.ctx) {
		g.err = ErrWalkCancelled
		return false
	}
	return true
}

func (g *group) stop() {
	g.w.Cancel()
	if g.err == nil {
		g.err = ErrWalkCancelled
	}
}

func (g *group) spawn(task func() error) {
	if !g.ok() {
		return
	}
	if g.w.sem.TryAcquire(1) {
		g.eg.Go(func() error {
			defer g.w.sem.Release(1)
			err := task()
			if err != nil {
				g.w.fail(err)
			}
			return err
		})
		return
	}
	if err := task(); err != nil {
		g.w.fail(err)
		g.err = err
	}
}

func (g *group) wait() error {
	err := g.eg.Wait()
	if g.err != nil {
		return g.err
	}
	return err
}

func sortedIndexes(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
