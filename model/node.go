package model

import (
	"fmt"
	"maps"
)

type NodeType uint8

const (
	TypeTree    NodeType = 1
	TypeFeature NodeType = 2
)

func (t NodeType) String() string {
	switch t {
	case TypeTree:
		return "tree"
	case TypeFeature:
		return "feature"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
}

// Node is a named pointer from a tree to one of its children: either a nested tree, or a feature.
//
// Nodes are plain values. Two nodes are interchangeable iff Equal reports true.
type Node struct {
	Name string
	Type NodeType
	Id   ObjectId

	// NullId when absent
	MetadataId ObjectId

	// [nullable]
	Bounds *Envelope

	// [nullable] free-form annotations, included in the tree hash
	Extra map[string]string
}

func NewTreeNode(name string, id, metadataId ObjectId, bounds *Envelope) Node {
	return Node{
		Name:       name,
		Type:       TypeTree,
		Id:         id,
		MetadataId: metadataId,
		Bounds:     bounds,
	}
}

func NewFeatureNode(name string, id ObjectId, bounds *Envelope) Node {
	return Node{
		Name:   name,
		Type:   TypeFeature,
		Id:     id,
		Bounds: bounds,
	}
}

// RootNode is the one node allowed to have an empty name: it points at the root of a tree hierarchy, and is used as the parent reference when diffing two root trees.
func RootNode(id ObjectId) Node {
	return Node{
		Type: TypeTree,
		Id:   id,
	}
}

func (n Node) IsTree() bool {
	return n.Type == TypeTree
}

func (n Node) IsFeature() bool {
	return n.Type == TypeFeature
}

// Validate checks that a node is well formed enough to be stored in a tree.
func (n Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNode)
	}
	if n.Type != TypeTree && n.Type != TypeFeature {
		return fmt.Errorf("%w: %q has unknown type %d", ErrInvalidNode, n.Name, n.Type)
	}
	if n.Id.IsNull() {
		return fmt.Errorf("%w: %q has null id", ErrInvalidNode, n.Name)
	}
	if n.Bounds != nil && !n.Bounds.isValid() {
		return fmt.Errorf("%w: %q has invalid bounds %s", ErrInvalidNode, n.Name, n.Bounds)
	}
	return nil
}

func (n Node) Equal(other Node) bool {
	return n.Name == other.Name &&
		n.Type == other.Type &&
		n.Id == other.Id &&
		n.MetadataId == other.MetadataId &&
		envelopeEqual(n.Bounds, other.Bounds) &&
		maps.Equal(n.Extra, other.Extra)
}

func (n Node) String() string {
	return fmt.Sprintf("%s %s %s", n.Type, n.Name, n.Id.Short())
}

// Bucket is an anonymous, index-addressed pointer from a bucketed tree to one of its shards. It always points to another RevTree, one level deeper.
type Bucket struct {
	Index  int
	Id     ObjectId
	Bounds *Envelope
}

func (b Bucket) Equal(other Bucket) bool {
	return b.Index == other.Index && b.Id == other.Id && envelopeEqual(b.Bounds, other.Bounds)
}

func (b Bucket) String() string {
	return fmt.Sprintf("bucket %d %s", b.Index, b.Id.Short())
}
