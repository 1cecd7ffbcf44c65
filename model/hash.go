package model

import (
	"encoding/binary"
	"hash"
	"math"
	"slices"

	"github.com/minio/sha256-simd"
)

// object type tags, the first byte of every hashed stream
const (
	tagTree byte = 0x02
)

// HashTree computes the content id of a tree with the given children. Node lists must already be in canonical order, and buckets sorted by index; the constructors in this package take care of that.
//
// The hashed stream is, in order: the tree type tag; the tree nodes; the feature nodes; the buckets (index and id and bounds). Each list is prefixed by its length. Size and child tree counts are derived values and are not hashed.
func HashTree(trees, features []Node, buckets []Bucket) ObjectId {
	f := newFunnel()
	f.putByte(tagTree)
	f.putUint32(uint32(len(trees)))
	for _, n := range trees {
		f.putNode(n)
	}
	f.putUint32(uint32(len(features)))
	for _, n := range features {
		f.putNode(n)
	}
	f.putUint32(uint32(len(buckets)))
	for _, b := range buckets {
		f.putUint32(uint32(b.Index))
		f.putId(b.Id)
		f.putBounds(b.Bounds)
	}
	return f.sum()
}

type funnel struct {
	h   hash.Hash
	buf [8]byte
}

func newFunnel() *funnel {
	return &funnel{h: sha256.New()}
}

func (f *funnel) putByte(b byte) {
	f.buf[0] = b
	f.h.Write(f.buf[:1])
}

func (f *funnel) putUint32(v uint32) {
	binary.BigEndian.PutUint32(f.buf[:4], v)
	f.h.Write(f.buf[:4])
}

func (f *funnel) putFloat64(v float64) {
	binary.BigEndian.PutUint64(f.buf[:8], math.Float64bits(v))
	f.h.Write(f.buf[:8])
}

func (f *funnel) putString(s string) {
	f.putUint32(uint32(len(s)))
	f.h.Write([]byte(s))
}

func (f *funnel) putId(id ObjectId) {
	f.h.Write(id[:])
}

func (f *funnel) putBounds(e *Envelope) {
	if e == nil {
		f.putByte(0)
		return
	}
	f.putByte(1)
	f.putFloat64(e.MinX)
	f.putFloat64(e.MinY)
	f.putFloat64(e.MaxX)
	f.putFloat64(e.MaxY)
}

func (f *funnel) putNode(n Node) {
	f.putByte(byte(n.Type))
	f.putString(n.Name)
	f.putId(n.Id)
	f.putId(n.MetadataId)
	f.putBounds(n.Bounds)

	keys := make([]string, 0, len(n.Extra))
	for k := range n.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	f.putUint32(uint32(len(keys)))
	for _, k := range keys {
		f.putString(k)
		f.putString(n.Extra[k])
	}
}

func (f *funnel) sum() ObjectId {
	var id ObjectId
	copy(id[:], f.h.Sum(nil))
	return id
}
