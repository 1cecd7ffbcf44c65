// Package codec serializes RevTree values to CBOR, for the storage backends that persist raw bytes.
//
// The encoding is a fixed-layout array, written with the cbor-gen primitives:
//
//	[version, kind, size, numTrees, [node...], [node...], [bucket...]]
//	node   = [name, type, id, metadataId|null, bounds|null, {extra}|null]
//	bucket = [index, id, bounds|null]
//	bounds = [minx, miny, maxx, maxy] (float64 bit patterns as unsigned ints)
//
// The id of a tree is never part of its encoding; it is the key the bytes are stored under.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/geoforge/revtree/model"

	cbg "github.com/whyrusleeping/cbor-gen"
)

const formatVersion = 1

// Limits applied on the read path, to avoid allocating based on hostile lengths.
const (
	MaxNameLength   = 64 << 10
	MaxExtraEntries = 1 << 10
	MaxListLength   = 1 << 24
)

var ErrMalformed = errors.New("malformed tree encoding")

var ErrIdMismatch = errors.New("tree content does not match id")

// Encode serializes a tree. The result is deterministic: equal trees encode to identical bytes.
func Encode(t *model.RevTree) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := MarshalTree(buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses bytes previously produced by Encode. The id is trusted, not recomputed; see DecodeVerify.
func Decode(id model.ObjectId, data []byte) (*model.RevTree, error) {
	return UnmarshalTree(id, bytes.NewReader(data))
}

// DecodeVerify is Decode followed by re-hashing the contents, failing with ErrIdMismatch if they do not match the id.
func DecodeVerify(id model.ObjectId, data []byte) (*model.RevTree, error) {
	t, err := Decode(id, data)
	if err != nil {
		return nil, err
	}
	if computed := model.HashTree(t.Trees(), t.Features(), t.Buckets()); computed != id {
		return nil, fmt.Errorf("%w: expected %s, computed %s", ErrIdMismatch, id, computed)
	}
	return t, nil
}

func MarshalTree(w io.Writer, t *model.RevTree) error {
	if t == nil {
		return fmt.Errorf("nil tree")
	}
	cw := cbg.NewCborWriter(w)

	if err := cw.WriteMajorTypeHeader(cbg.MajArray, 7); err != nil {
		return err
	}
	for _, v := range []uint64{formatVersion, uint64(t.Kind()), uint64(t.Size()), uint64(t.NumTrees())} {
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, v); err != nil {
			return err
		}
	}
	for _, list := range [][]model.Node{t.Trees(), t.Features()} {
		if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(list))); err != nil {
			return err
		}
		for _, n := range list {
			if err := writeNode(cw, n); err != nil {
				return fmt.Errorf("encoding node %q: %w", n.Name, err)
			}
		}
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(t.Buckets()))); err != nil {
		return err
	}
	for _, b := range t.Buckets() {
		if err := writeBucket(cw, b); err != nil {
			return fmt.Errorf("encoding bucket %d: %w", b.Index, err)
		}
	}
	return nil
}

func UnmarshalTree(id model.ObjectId, r io.Reader) (*model.RevTree, error) {
	cr := cbg.NewCborReader(r)

	if err := readArrayHeader(cr, 7); err != nil {
		return nil, err
	}
	version, err := readUint(cr)
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, version)
	}
	kind, err := readUint(cr)
	if err != nil {
		return nil, err
	}
	size, err := readUint(cr)
	if err != nil {
		return nil, err
	}
	numTrees, err := readUint(cr)
	if err != nil {
		return nil, err
	}
	if size > math.MaxInt64 || numTrees > math.MaxInt32 {
		return nil, fmt.Errorf("%w: size out of range", ErrMalformed)
	}

	var lists [2][]model.Node
	for i := range lists {
		n, err := readListHeader(cr)
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < n; j++ {
			node, err := readNode(cr)
			if err != nil {
				return nil, err
			}
			lists[i] = append(lists[i], node)
		}
	}

	nb, err := readListHeader(cr)
	if err != nil {
		return nil, err
	}
	var buckets []model.Bucket
	for j := uint64(0); j < nb; j++ {
		b, err := readBucket(cr)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	t, err := model.RestoreTree(id, int64(size), int(numTrees), lists[0], lists[1], buckets)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if uint64(t.Kind()) != kind {
		return nil, fmt.Errorf("%w: encoded kind %d does not match contents (%s)", ErrMalformed, kind, t.Kind())
	}
	return t, nil
}

func writeNode(cw *cbg.CborWriter, n model.Node) error {
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, 6); err != nil {
		return err
	}
	if err := writeString(cw, n.Name); err != nil {
		return err
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(n.Type)); err != nil {
		return err
	}
	if err := cbg.WriteByteArray(cw, n.Id[:]); err != nil {
		return err
	}
	if n.MetadataId.IsNull() {
		if _, err := cw.Write(cbg.CborNull); err != nil {
			return err
		}
	} else if err := cbg.WriteByteArray(cw, n.MetadataId[:]); err != nil {
		return err
	}
	if err := writeBounds(cw, n.Bounds); err != nil {
		return err
	}

	if n.Extra == nil {
		_, err := cw.Write(cbg.CborNull)
		return err
	}
	keys := make([]string, 0, len(n.Extra))
	for k := range n.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if err := cw.WriteMajorTypeHeader(cbg.MajMap, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeString(cw, k); err != nil {
			return err
		}
		if err := writeString(cw, n.Extra[k]); err != nil {
			return err
		}
	}
	return nil
}

func readNode(cr *cbg.CborReader) (model.Node, error) {
	var n model.Node
	if err := readArrayHeader(cr, 6); err != nil {
		return n, err
	}
	name, err := readString(cr)
	if err != nil {
		return n, err
	}
	n.Name = name

	typ, err := readUint(cr)
	if err != nil {
		return n, err
	}
	n.Type = model.NodeType(typ)

	n.Id, err = readId(cr)
	if err != nil {
		return n, err
	}

	isNull, err := peekNull(cr)
	if err != nil {
		return n, err
	}
	if !isNull {
		n.MetadataId, err = readId(cr)
		if err != nil {
			return n, err
		}
	}

	n.Bounds, err = readBounds(cr)
	if err != nil {
		return n, err
	}

	isNull, err = peekNull(cr)
	if err != nil {
		return n, err
	}
	if isNull {
		return n, nil
	}
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return n, err
	}
	if maj != cbg.MajMap {
		return n, fmt.Errorf("%w: expected map for extra data", ErrMalformed)
	}
	if extra > MaxExtraEntries {
		return n, fmt.Errorf("%w: too many extra data entries (%d)", ErrMalformed, extra)
	}
	n.Extra = make(map[string]string, extra)
	for i := uint64(0); i < extra; i++ {
		k, err := readString(cr)
		if err != nil {
			return n, err
		}
		v, err := readString(cr)
		if err != nil {
			return n, err
		}
		n.Extra[k] = v
	}
	return n, nil
}

func writeBucket(cw *cbg.CborWriter, b model.Bucket) error {
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, 3); err != nil {
		return err
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(b.Index)); err != nil {
		return err
	}
	if err := cbg.WriteByteArray(cw, b.Id[:]); err != nil {
		return err
	}
	return writeBounds(cw, b.Bounds)
}

func readBucket(cr *cbg.CborReader) (model.Bucket, error) {
	var b model.Bucket
	if err := readArrayHeader(cr, 3); err != nil {
		return b, err
	}
	idx, err := readUint(cr)
	if err != nil {
		return b, err
	}
	if idx > math.MaxInt32 {
		return b, fmt.Errorf("%w: bucket index %d out of range", ErrMalformed, idx)
	}
	b.Index = int(idx)
	if b.Id, err = readId(cr); err != nil {
		return b, err
	}
	if b.Bounds, err = readBounds(cr); err != nil {
		return b, err
	}
	return b, nil
}

func writeBounds(cw *cbg.CborWriter, e *model.Envelope) error {
	if e == nil {
		_, err := cw.Write(cbg.CborNull)
		return err
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, 4); err != nil {
		return err
	}
	for _, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, math.Float64bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func readBounds(cr *cbg.CborReader) (*model.Envelope, error) {
	isNull, err := peekNull(cr)
	if err != nil {
		return nil, err
	}
	if isNull {
		return nil, nil
	}
	if err := readArrayHeader(cr, 4); err != nil {
		return nil, err
	}
	var vals [4]float64
	for i := range vals {
		bits, err := readUint(cr)
		if err != nil {
			return nil, err
		}
		vals[i] = math.Float64frombits(bits)
	}
	return &model.Envelope{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

func writeString(cw *cbg.CborWriter, s string) error {
	if err := cw.WriteMajorTypeHeader(cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(cw, s)
	return err
}

func readString(cr *cbg.CborReader) (string, error) {
	maj, l, err := cr.ReadHeader()
	if err != nil {
		return "", err
	}
	if maj != cbg.MajTextString {
		return "", fmt.Errorf("%w: expected text string, got major type %d", ErrMalformed, maj)
	}
	if l > MaxNameLength {
		return "", fmt.Errorf("%w: string too long (%d)", ErrMalformed, l)
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(cr, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readId(cr *cbg.CborReader) (model.ObjectId, error) {
	b, err := cbg.ReadByteArray(cr, model.IdSize)
	if err != nil {
		return model.NullId, err
	}
	id, err := model.ObjectIdFromBytes(b)
	if err != nil {
		return model.NullId, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return id, nil
}

func readUint(cr *cbg.CborReader) (uint64, error) {
	maj, v, err := cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajUnsignedInt {
		return 0, fmt.Errorf("%w: expected unsigned int, got major type %d", ErrMalformed, maj)
	}
	return v, nil
}

func readArrayHeader(cr *cbg.CborReader, expected uint64) error {
	maj, l, err := cr.ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("%w: expected array, got major type %d", ErrMalformed, maj)
	}
	if l != expected {
		return fmt.Errorf("%w: expected array of %d, got %d", ErrMalformed, expected, l)
	}
	return nil
}

func readListHeader(cr *cbg.CborReader) (uint64, error) {
	maj, l, err := cr.ReadHeader()
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajArray {
		return 0, fmt.Errorf("%w: expected array, got major type %d", ErrMalformed, maj)
	}
	if l > MaxListLength {
		return 0, fmt.Errorf("%w: list too long (%d)", ErrMalformed, l)
	}
	return l, nil
}

// peekNull consumes a CBOR null if one is next, leaving anything else unread
func peekNull(cr *cbg.CborReader) (bool, error) {
	b, err := cr.ReadByte()
	if err != nil {
		return false, err
	}
	if b == cbg.CborNull[0] {
		return true, nil
	}
	if err := cr.UnreadByte(); err != nil {
		return false, err
	}
	return false, nil
}
