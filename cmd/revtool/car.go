package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/geoforge/revtree/storage/blockstore"

	"github.com/urfave/cli/v2"
)

var cmdExport = &cli.Command{
	Name:      "export",
	Usage:     "write a tree and everything it references to a CAR file",
	ArgsUsage: "<id> <file.car>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 2 {
			return fmt.Errorf("expected a tree id and an output path")
		}
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := parseTreeId(cctx.Args().Get(0))
		if err != nil {
			return err
		}
		path := cctx.Args().Get(1)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()

		buf := bufio.NewWriter(f)
		n, err := blockstore.ExportCAR(cctx.Context, store, id, buf)
		if err != nil {
			return err
		}
		if err := buf.Flush(); err != nil {
			return err
		}
		slog.Info("exported tree", "root", id, "path", path, "blocks", n)
		return f.Close()
	},
}

var cmdImport = &cli.Command{
	Name:      "import",
	Usage:     "load the trees in a CAR file, and print the root id",
	ArgsUsage: "<file.car>",
	Action: func(cctx *cli.Context) error {
		path := cctx.Args().First()
		if path == "" {
			return fmt.Errorf("expected a CAR file path")
		}
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		root, inserted, err := blockstore.ImportCAR(cctx.Context, store, bufio.NewReader(f))
		if err != nil {
			return err
		}
		slog.Info("imported trees", "root", root, "path", path, "inserted", inserted)
		fmt.Println(root)
		return nil
	},
}
