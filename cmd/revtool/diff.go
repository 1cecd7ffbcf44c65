package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/geoforge/revtree/diff"
	"github.com/geoforge/revtree/model"

	"github.com/urfave/cli/v2"
)

var cmdDiff = &cli.Command{
	Name:      "diff",
	Usage:     "list the differences between two trees",
	ArgsUsage: "<left> <right>",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "limit",
			Usage: "stop after this many features, 0 for no limit",
		},
		&cli.StringFlag{
			Name:  "bbox",
			Usage: "only report features intersecting minx,miny,maxx,maxy",
		},
		&cli.BoolFlag{
			Name:  "trees",
			Usage: "also report changed tree nodes",
		},
		&cli.BoolFlag{
			Name:  "count",
			Usage: "only print the number of additions, modifications, and removals",
		},
	},
	Action: runDiff,
}

func parseBBox(s string) (model.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.Envelope{}, fmt.Errorf("bbox must be minx,miny,maxx,maxy: %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("bbox: %w", err)
		}
		v[i] = f
	}
	return model.NewEnvelope(v[0], v[1], v[2], v[3]), nil
}

func runDiff(cctx *cli.Context) error {
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected two tree ids")
	}
	store, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer store.Close()

	left, err := loadTreeArg(cctx, store, 0)
	if err != nil {
		return err
	}
	right, err := loadTreeArg(cctx, store, 1)
	if err != nil {
		return err
	}

	collector := &diff.ChangeCollector{IncludeTrees: cctx.Bool("trees")}
	counter := &diff.CountingConsumer{}
	var c diff.Consumer = collector
	if cctx.Bool("count") {
		c = counter
	}
	if bbox := cctx.String("bbox"); bbox != "" {
		env, err := parseBBox(bbox)
		if err != nil {
			return err
		}
		c = diff.NewFilteringConsumer(c, env)
	}
	if limit := cctx.Int64("limit"); limit > 0 {
		c = diff.NewMaxFeatureDiffsLimiter(c, limit)
	}

	w := diff.NewPreOrderDiffWalk(left, right, store, store, &diff.Options{
		Concurrency: cctx.Int("concurrency"),
	})
	err = w.Walk(cctx.Context, c)
	truncated := errors.Is(err, diff.ErrWalkCancelled)
	if err != nil && !truncated {
		return err
	}

	if cctx.Bool("count") {
		fmt.Printf("added:    %d\n", counter.Added.Load())
		fmt.Printf("modified: %d\n", counter.Modified.Load())
		fmt.Printf("removed:  %d\n", counter.Removed.Load())
	} else {
		for _, e := range collector.Entries() {
			fmt.Printf("%s %s\n", e.Type, e.Path)
		}
	}
	if truncated {
		fmt.Println("(limit reached, output truncated)")
	}
	return nil
}
