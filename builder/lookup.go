package builder

import (
	"context"
	"errors"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
)

// ErrStopWalk may be returned by a WalkNodes callback to end the walk early without error.
var ErrStopWalk = errors.New("stop walk")

// FindNode looks up a direct child of 'tree' by name, descending through buckets as needed. Only the buckets on the path to the name are loaded.
func FindNode(ctx context.Context, store storage.ObjectStore, tree *model.RevTree, name string) (model.Node, bool, error) {
	t := tree
	for depth := 0; ; depth++ {
		if n, ok := t.Find(name); ok {
			return n, true, nil
		}
		if !t.HasBuckets() {
			return model.Node{}, false, nil
		}
		b, ok := t.Bucket(model.BucketIndex(name, depth))
		if !ok {
			return model.Node{}, false, nil
		}
		next, err := storage.GetTree(ctx, store, b.Id)
		if err != nil {
			return model.Node{}, false, err
		}
		t = next
	}
}

// WalkNodes calls fn for every node held by 'tree', directly or through its buckets (but not inside nested trees). Each tree's direct nodes are visited in canonical order, then its buckets in index order; so the overall order is only canonical for leaf trees.
func WalkNodes(ctx context.Context, store storage.ObjectStore, tree *model.RevTree, fn func(n model.Node) error) error {
	err := walkNodes(ctx, store, tree, fn)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

func walkNodes(ctx context.Context, store storage.ObjectStore, t *model.RevTree, fn func(n model.Node) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for n := range t.Children() {
		if err := fn(n); err != nil {
			return err
		}
	}
	for _, b := range t.Buckets() {
		child, err := storage.GetTree(ctx, store, b.Id)
		if err != nil {
			return err
		}
		if err := walkNodes(ctx, store, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// collectNodes gathers every node of a tree, canonically sorted
func collectNodes(ctx context.Context, store storage.ObjectStore, t *model.RevTree) ([]model.Node, error) {
	if !t.HasBuckets() {
		return t.ChildList(), nil
	}
	var out []model.Node
	err := walkNodes(ctx, store, t, func(n model.Node) error {
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	model.SortNodes(out)
	return out, nil
}
