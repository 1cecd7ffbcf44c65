package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/geoforge/revtree/builder"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/brianvoe/gofakeit/v6"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/urfave/cli/v2"
)

var cmdGen = &cli.Command{
	Name:      "gen",
	Usage:     "build a tree of synthetic features and print its id",
	ArgsUsage: "[count]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "trees",
			Usage: "number of named sub-trees to spread the features over, besides the root",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "seed for feature names and contents; the same seed gives the same tree",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "base",
			Usage: "id of a tree to add the features to, instead of the empty tree",
		},
	},
	Action: runGen,
}

func runGen(cctx *cli.Context) error {
	ctx := cctx.Context
	count := 1000
	if arg := cctx.Args().First(); arg != "" {
		if _, err := fmt.Sscanf(arg, "%d", &count); err != nil {
			return fmt.Errorf("invalid count %q: %w", arg, err)
		}
	}
	numTrees := cctx.Int("trees")

	store, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	base := model.EmptyTree
	if b := cctx.String("base"); b != "" {
		id, err := parseTreeId(b)
		if err != nil {
			return err
		}
		if base, err = storage.GetTree(ctx, store, id); err != nil {
			return err
		}
	}

	scheme, _, _ := strings.Cut(cctx.String("store"), "://")
	opts := &builder.Options{
		Concurrency: cctx.Int("concurrency"),
		Listener:    storage.NewMetricsListener(scheme),
	}

	f := gofakeit.New(cctx.Int64("seed"))
	seq := 0
	features := func(n int) []model.Node {
		out := make([]model.Node, n)
		for i := range out {
			out[i] = fakeFeature(f, seq)
			seq++
		}
		return out
	}

	root := builder.NewCanonicalTreeBuilder(store, base, opts)
	perTree := count / (numTrees + 1)
	used := make(map[string]bool)
	for range numTrees {
		name := petname.Generate(2, "-")
		for used[name] {
			name = fmt.Sprintf("%s-%d", petname.Generate(2, "-"), len(used))
		}
		used[name] = true

		sub := builder.NewCanonicalTreeBuilder(store, nil, opts)
		for _, n := range features(perTree) {
			if err := sub.Put(n); err != nil {
				return err
			}
		}
		t, err := sub.Build(ctx)
		if err != nil {
			return fmt.Errorf("building %s: %w", name, err)
		}
		if err := root.Put(model.NewTreeNode(name, t.Id(), model.NullId, model.BoundsOf(t))); err != nil {
			return err
		}
		slog.Debug("built sub-tree", "name", name, "id", t.Id(), "size", t.Size())
	}
	for _, n := range features(count - perTree*numTrees) {
		if err := root.Put(n); err != nil {
			return err
		}
	}

	t, err := root.Build(ctx)
	if err != nil {
		return err
	}
	slog.Info("generated tree", "id", t.Id(), "kind", t.Kind(), "size", t.Size(), "trees", t.NumTrees())
	fmt.Println(t.Id())
	return nil
}

func fakeFeature(f *gofakeit.Faker, seq int) model.Node {
	name := fmt.Sprintf("%s-%s-%d", f.Adjective(), f.Noun(), seq)
	name = strings.ReplaceAll(strings.ToLower(name), " ", "-")
	lat, lon := f.Latitude(), f.Longitude()
	env := model.NewEnvelope(lon, lat, lon+0.01, lat+0.01)
	return model.NewFeatureNode(name, model.HashBytes([]byte(f.UUID())), &env)
}
