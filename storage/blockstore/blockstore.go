// Package blockstore adapts an IPFS blockstore (in-memory, flatfs on disk, or any other) to the ObjectStore contract.
//
// Each tree is one dag-cbor block. The block CID wraps the tree id as a sha2-256 multihash; note that the id is the hash of the tree's canonical contents, not of the block bytes, so blockstores must not be configured to re-hash on read.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/multiformats/go-multihash"
)

// CidForId wraps a tree id in a CIDv1.
func CidForId(id model.ObjectId) cid.Cid {
	mh, err := multihash.Encode(id[:], multihash.SHA2_256)
	if err != nil {
		// only fails for unknown codes or digest length mismatch, neither possible here
		panic(err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh)
}

// IdForCid is the inverse of CidForId.
func IdForCid(c cid.Cid) (model.ObjectId, error) {
	dmh, err := multihash.Decode(c.Hash())
	if err != nil {
		return model.NullId, err
	}
	if dmh.Code != multihash.SHA2_256 || c.Type() != cid.DagCBOR {
		return model.NullId, fmt.Errorf("%w: unexpected cid %s", model.ErrInvalidObjectId, c)
	}
	return model.ObjectIdFromBytes(dmh.Digest)
}

// BlockFor encodes a tree as a block.
func BlockFor(t *model.RevTree) (blocks.Block, error) {
	data, err := codec.Encode(t)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, CidForId(t.Id()))
}

type BlockStore struct {
	bs blockstore.Blockstore
	// closed along with the store, if set
	ds datastore.Datastore

	lk sync.Mutex
}

var _ storage.ObjectStore = (*BlockStore)(nil)

// New wraps an existing blockstore; Close is a no-op.
func New(bs blockstore.Blockstore) *BlockStore {
	return &BlockStore{bs: bs}
}

// NewMemory returns a store over a synchronized in-memory map datastore.
func NewMemory() *BlockStore {
	return New(blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore())))
}

// OpenFlatfs opens (or creates) a flatfs directory, with the default IPFS sharding.
func OpenFlatfs(dir string) (*BlockStore, error) {
	fds, err := flatfs.CreateOrOpen(dir, flatfs.IPFS_DEF_SHARD, false)
	if err != nil {
		return nil, err
	}
	return &BlockStore{
		bs: blockstore.NewBlockstoreNoPrefix(fds),
		ds: fds,
	}, nil
}

// Blockstore returns the underlying blockstore.
func (s *BlockStore) Blockstore() blockstore.Blockstore {
	return s.bs
}

func (s *BlockStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	blk, err := s.bs.Get(ctx, CidForId(id))
	if err != nil {
		if ipld.IsNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("getting block for %s: %w", id, err)
	}
	return codec.Decode(id, blk.RawData())
}

func (s *BlockStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			l.NotFound(id)
			continue
		}
		if err != nil {
			return nil, err
		}
		l.Found(id)
		out = append(out, t)
	}
	return out, nil
}

func (s *BlockStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	blk, err := BlockFor(t)
	if err != nil {
		return false, err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	has, err := s.bs.Has(ctx, blk.Cid())
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	if err := s.bs.Put(ctx, blk); err != nil {
		return false, fmt.Errorf("putting block for %s: %w", t.Id(), err)
	}
	return true, nil
}

func (s *BlockStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	c := CidForId(id)

	s.lk.Lock()
	defer s.lk.Unlock()

	has, err := s.bs.Has(ctx, c)
	if err != nil || !has {
		return false, err
	}
	if err := s.bs.DeleteBlock(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BlockStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	return s.bs.Has(ctx, CidForId(id))
}

func (s *BlockStore) Close() error {
	if s.ds != nil {
		return s.ds.Close()
	}
	return nil
}
