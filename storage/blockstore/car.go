package blockstore

import (
	"context"
	"fmt"
	"io"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
)

// ExportCAR writes every tree reachable from root (root first, then breadth-first) as a CARv1 stream, with root as the single CAR root. The empty tree is only written if it is the root. Returns the number of blocks written.
func ExportCAR(ctx context.Context, store storage.ObjectStore, root model.ObjectId, w io.Writer) (int, error) {
	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{CidForId(root)},
		Version: 1,
	}, w); err != nil {
		return 0, err
	}

	seen := map[model.ObjectId]bool{root: true}
	queue := []model.ObjectId{root}
	written := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		id := queue[0]
		queue = queue[1:]

		t, err := storage.GetTree(ctx, store, id)
		if err != nil {
			return written, err
		}
		data, err := codec.Encode(t)
		if err != nil {
			return written, err
		}
		if err := carutil.LdWrite(w, CidForId(id).Bytes(), data); err != nil {
			return written, err
		}
		written++

		enqueue := func(child model.ObjectId) {
			if child == model.EmptyTreeId || seen[child] {
				return
			}
			seen[child] = true
			queue = append(queue, child)
		}
		for _, n := range t.Trees() {
			enqueue(n.Id)
		}
		for _, b := range t.Buckets() {
			enqueue(b.Id)
		}
	}
	return written, nil
}

// ImportCAR stores every block of a CAR stream (v1 or v2). Block contents are re-hashed and must match the id in their CID. Returns the first CAR root and the number of newly inserted trees.
func ImportCAR(ctx context.Context, store storage.ObjectStore, r io.Reader) (model.ObjectId, int, error) {
	// CIDs carry content ids rather than block hashes, so the reader must not check them against the bytes
	br, err := carv2.NewBlockReader(r, carv2.WithTrustedCAR(true))
	if err != nil {
		return model.NullId, 0, err
	}
	if len(br.Roots) < 1 {
		return model.NullId, 0, fmt.Errorf("CAR file missing root CID")
	}
	root, err := IdForCid(br.Roots[0])
	if err != nil {
		return model.NullId, 0, fmt.Errorf("CAR root: %w", err)
	}

	inserted := 0
	for {
		blk, err := br.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return root, inserted, err
		}
		id, err := IdForCid(blk.Cid())
		if err != nil {
			return root, inserted, err
		}
		t, err := codec.DecodeVerify(id, blk.RawData())
		if err != nil {
			return root, inserted, fmt.Errorf("block %s: %w", blk.Cid(), err)
		}
		ok, err := store.Put(ctx, t)
		if err != nil {
			return root, inserted, err
		}
		if ok {
			inserted++
		}
	}
	return root, inserted, nil
}
