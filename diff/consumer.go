package diff

import (
	"fmt"
	"strings"

	"github.com/geoforge/revtree/model"
)

// NodeRef is a node together with the path of the tree holding it. The root trees of a walk are referenced with an empty name and path.
type NodeRef struct {
	Node       model.Node
	ParentPath string
}

func newRef(n model.Node, parent *NodeRef) *NodeRef {
	return &NodeRef{
		Node:       n,
		ParentPath: parent.Path(),
	}
}

func (r *NodeRef) Name() string {
	return r.Node.Name
}

// Path is the slash separated path from the root, eg "roads/r1". The root itself has an empty path.
func (r *NodeRef) Path() string {
	if r == nil {
		return ""
	}
	if r.ParentPath == "" {
		return r.Node.Name
	}
	return r.ParentPath + "/" + r.Node.Name
}

func (r *NodeRef) String() string {
	return fmt.Sprintf("%s %s", r.Node.Type, r.Path())
}

// BucketIndex locates a bucket within a tree: the bucket index at each level, from the tree down. Its length is the depth of the bucket's tree.
type BucketIndex []int

func (b BucketIndex) Depth() int {
	return len(b)
}

// Index is the position of the bucket within its immediate parent, or -1 for the empty path.
func (b BucketIndex) Index() int {
	if len(b) == 0 {
		return -1
	}
	return b[len(b)-1]
}

// Append returns a new path one level deeper. The receiver is not modified.
func (b BucketIndex) Append(index int) BucketIndex {
	out := make(BucketIndex, len(b)+1)
	copy(out, b)
	out[len(b)] = index
	return out
}

func (b BucketIndex) String() string {
	parts := make([]string, len(b))
	for i, idx := range b {
		parts[i] = fmt.Sprint(idx)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Consumer receives the differences found by a PreOrderDiffWalk. For every callback, a nil left (or right) means the entry only exists on the other side, ie it was added (or removed).
//
// With Options.Concurrency above 1 callbacks arrive from several goroutines at once, so implementations must be safe for concurrent use.
type Consumer interface {
	// Called for a pair of trees with the same name and different contents, or a tree on one side only. Returning false skips the contents of the pair; EndTree is still called.
	Tree(left, right *NodeRef) bool
	EndTree(left, right *NodeRef)

	// Called for differing buckets at the same index of the trees being compared. A side that is not bucketed at that level, or has no such bucket, is nil. Returning false skips the contents; EndBucket is still called.
	Bucket(leftParent, rightParent *NodeRef, index BucketIndex, left, right *model.Bucket) bool
	EndBucket(leftParent, rightParent *NodeRef, index BucketIndex, left, right *model.Bucket)

	// Called for a pair of differing features with the same name, or a feature on one side only. Returning false stops the whole walk.
	Feature(left, right *NodeRef) bool
}
