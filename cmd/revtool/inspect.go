package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/geoforge/revtree/builder"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
	"github.com/geoforge/revtree/storage/cachestore"
	"github.com/geoforge/revtree/storage/gormstore"
	"github.com/geoforge/revtree/storage/memstore"
	"github.com/geoforge/revtree/storage/pebblestore"

	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

var cmdLsTree = &cli.Command{
	Name:      "ls-tree",
	Usage:     "print the structure of a tree",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "recursive",
			Aliases: []string{"r"},
			Usage:   "descend in to nested trees, not only buckets",
		},
		&cli.BoolFlag{
			Name:  "full-ids",
			Usage: "print full ids instead of short prefixes",
		},
		&cli.BoolFlag{
			Name:  "flat",
			Usage: "print one node per line, ignoring buckets",
		},
		&cli.IntFlag{
			Name:  "max-nodes",
			Usage: "only print this many nodes of each leaf, 0 for all",
			Value: 20,
		},
	},
	Action: runLsTree,
}

type lsOptions struct {
	recursive bool
	fullIds   bool
	maxNodes  int
}

func runLsTree(cctx *cli.Context) error {
	store, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := loadTreeArg(cctx, store, 0)
	if err != nil {
		return err
	}
	opts := lsOptions{
		recursive: cctx.Bool("recursive"),
		fullIds:   cctx.Bool("full-ids"),
		maxNodes:  cctx.Int("max-nodes"),
	}
	if cctx.Bool("flat") {
		return builder.WalkNodes(cctx.Context, store, t, func(n model.Node) error {
			fmt.Printf("%s\t%s\t%s\n", n.Type, displayId(n.Id, opts), n.Name)
			return nil
		})
	}
	out := treeprint.NewWithRoot(describeTree(t, opts))
	if err := printTree(cctx.Context, store, t, out, opts); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

func displayId(id model.ObjectId, opts lsOptions) string {
	if opts.fullIds {
		return id.String()
	}
	return id.Short()
}

func describeTree(t *model.RevTree, opts lsOptions) string {
	return fmt.Sprintf("[%s] %s size=%d trees=%d", displayId(t.Id(), opts), t.Kind(), t.Size(), t.NumTrees())
}

func printTree(ctx context.Context, store storage.ObjectStore, t *model.RevTree, out treeprint.Tree, opts lsOptions) error {
	shown := 0
	for _, n := range t.ChildList() {
		if opts.maxNodes > 0 && shown >= opts.maxNodes {
			out.AddNode(fmt.Sprintf("… %d more", t.NumDirectNodes()-shown))
			break
		}
		shown++
		if n.IsFeature() {
			out.AddNode(fmt.Sprintf("%s [%s]", n.Name, displayId(n.Id, opts)))
			continue
		}
		if !opts.recursive {
			out.AddNode(fmt.Sprintf("%s/ [%s]", n.Name, displayId(n.Id, opts)))
			continue
		}
		sub, err := storage.GetTree(ctx, store, n.Id)
		if err != nil {
			return err
		}
		branch := out.AddBranch(fmt.Sprintf("%s/ %s", n.Name, describeTree(sub, opts)))
		if err := printTree(ctx, store, sub, branch, opts); err != nil {
			return err
		}
	}
	for _, b := range t.Buckets() {
		sub, err := storage.GetTree(ctx, store, b.Id)
		if err != nil {
			return err
		}
		branch := out.AddBranch(fmt.Sprintf("bucket %d %s", b.Index, describeTree(sub, opts)))
		if err := printTree(ctx, store, sub, branch, opts); err != nil {
			return err
		}
	}
	return nil
}

var cmdFind = &cli.Command{
	Name:      "find",
	Usage:     "resolve a slash separated path from a root tree",
	ArgsUsage: "<id> <path>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 2 {
			return fmt.Errorf("expected a tree id and a path")
		}
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := loadTreeArg(cctx, store, 0)
		if err != nil {
			return err
		}
		n, err := resolvePath(cctx.Context, store, t, cctx.Args().Get(1))
		if err != nil {
			return err
		}
		fmt.Printf("type: %s\n", n.Type)
		fmt.Printf("id:   %s\n", n.Id)
		if !n.MetadataId.IsNull() {
			fmt.Printf("meta: %s\n", n.MetadataId)
		}
		if n.Bounds != nil {
			fmt.Printf("bounds: %s\n", n.Bounds)
		}
		return nil
	},
}

func resolvePath(ctx context.Context, store storage.ObjectStore, root *model.RevTree, path string) (model.Node, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	t := root
	for i, name := range parts {
		n, ok, err := builder.FindNode(ctx, store, t, name)
		if err != nil {
			return model.Node{}, err
		}
		if !ok {
			return model.Node{}, fmt.Errorf("%q: %w", strings.Join(parts[:i+1], "/"), storage.ErrNotFound)
		}
		if i == len(parts)-1 {
			return n, nil
		}
		if !n.IsTree() {
			return model.Node{}, fmt.Errorf("%q is a feature, not a tree", strings.Join(parts[:i+1], "/"))
		}
		if t, err = storage.GetTree(ctx, store, n.Id); err != nil {
			return model.Node{}, err
		}
	}
	return model.Node{}, fmt.Errorf("empty path")
}

var cmdStat = &cli.Command{
	Name:      "stat",
	Usage:     "print a summary of one tree",
	ArgsUsage: "<id>",
	Action: func(cctx *cli.Context) error {
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := loadTreeArg(cctx, store, 0)
		if err != nil {
			return err
		}
		fmt.Printf("id:       %s\n", t.Id())
		fmt.Printf("kind:     %s\n", t.Kind())
		fmt.Printf("size:     %d\n", t.Size())
		fmt.Printf("numTrees: %d\n", t.NumTrees())
		fmt.Printf("trees:    %d\n", len(t.Trees()))
		fmt.Printf("features: %d\n", len(t.Features()))
		fmt.Printf("buckets:  %d\n", len(t.Buckets()))
		if env := model.BoundsOf(t); env != nil {
			fmt.Printf("bounds:   %s\n", env)
		}
		for _, b := range t.Buckets() {
			fmt.Printf("  %s\n", b)
		}
		return nil
	},
}

var cmdInfo = &cli.Command{
	Name:  "info",
	Usage: "print what the store holds, for backends that can tell",
	Action: func(cctx *cli.Context) error {
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close()

		base := unwrapStore(store)
		fmt.Printf("store: %s\n", cctx.String("store"))
		switch s := base.(type) {
		case *memstore.Memstore:
			fmt.Printf("trees: %d\n", s.Len())
		case *pebblestore.PebbleStore:
			n, err := s.Count(cctx.Context)
			if err != nil {
				return err
			}
			fmt.Printf("trees: %d\n", n)
		case *gormstore.GormStore:
			stats, err := s.Stats(cctx.Context)
			if err != nil {
				return err
			}
			for _, k := range []model.TreeKind{model.LeafTree, model.BucketTree, model.MixedTree} {
				fmt.Printf("%s trees: %d\n", k, stats[k])
			}
		default:
			fmt.Println("no statistics available for this backend")
		}
		return nil
	},
}

// unwrapStore strips caching and resource wrappers off a store, down to the backend
func unwrapStore(s storage.ObjectStore) storage.ObjectStore {
	for {
		switch w := s.(type) {
		case *cachestore.CacheStore:
			s = w.Base()
		case interface{ Unwrap() storage.ObjectStore }:
			s = w.Unwrap()
		default:
			return s
		}
	}
}
