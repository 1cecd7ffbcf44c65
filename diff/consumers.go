package diff

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/geoforge/revtree/model"
)

// AbstractConsumer accepts everything and does nothing. Embed it to only implement the callbacks of interest.
type AbstractConsumer struct{}

func (AbstractConsumer) Tree(left, right *NodeRef) bool { return true }
func (AbstractConsumer) EndTree(left, right *NodeRef)   {}
func (AbstractConsumer) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	return true
}
func (AbstractConsumer) EndBucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) {}
func (AbstractConsumer) Feature(left, right *NodeRef) bool                                      { return true }

// ForwardingConsumer passes every callback to Delegate. Embed it to decorate another consumer.
type ForwardingConsumer struct {
	Delegate Consumer
}

func (f *ForwardingConsumer) Tree(left, right *NodeRef) bool {
	return f.Delegate.Tree(left, right)
}

func (f *ForwardingConsumer) EndTree(left, right *NodeRef) {
	f.Delegate.EndTree(left, right)
}

func (f *ForwardingConsumer) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	return f.Delegate.Bucket(lp, rp, index, left, right)
}

func (f *ForwardingConsumer) EndBucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) {
	f.Delegate.EndBucket(lp, rp, index, left, right)
}

func (f *ForwardingConsumer) Feature(left, right *NodeRef) bool {
	return f.Delegate.Feature(left, right)
}

// MaxFeatureDiffsLimiter stops the walk once more than Limit features have been reported. The delegate sees at most Limit features.
type MaxFeatureDiffsLimiter struct {
	ForwardingConsumer
	limit int64
	count atomic.Int64
}

func NewMaxFeatureDiffsLimiter(delegate Consumer, limit int64) *MaxFeatureDiffsLimiter {
	return &MaxFeatureDiffsLimiter{
		ForwardingConsumer: ForwardingConsumer{Delegate: delegate},
		limit:              limit,
	}
}

func (m *MaxFeatureDiffsLimiter) Tree(left, right *NodeRef) bool {
	return m.count.Load() < m.limit && m.Delegate.Tree(left, right)
}

func (m *MaxFeatureDiffsLimiter) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	return m.count.Load() < m.limit && m.Delegate.Bucket(lp, rp, index, left, right)
}

func (m *MaxFeatureDiffsLimiter) Feature(left, right *NodeRef) bool {
	if m.count.Add(1) > m.limit {
		return false
	}
	return m.Delegate.Feature(left, right)
}

// Count is the number of features seen so far, including the one that went over the limit.
func (m *MaxFeatureDiffsLimiter) Count() int64 {
	return m.count.Load()
}

// FilteringConsumer only passes on entries whose bounds intersect Filter. Entries without bounds always pass.
type FilteringConsumer struct {
	ForwardingConsumer
	filter model.Envelope
}

func NewFilteringConsumer(delegate Consumer, filter model.Envelope) *FilteringConsumer {
	return &FilteringConsumer{
		ForwardingConsumer: ForwardingConsumer{Delegate: delegate},
		filter:             filter,
	}
}

func (f *FilteringConsumer) matches(bounds ...*model.Envelope) bool {
	for _, b := range bounds {
		if b == nil || b.Intersects(f.filter) {
			return true
		}
	}
	return false
}

func refBounds(r *NodeRef) *model.Envelope {
	if r == nil {
		return nil
	}
	return r.Node.Bounds
}

// bothSides lists the bounds of the sides that are present
func bothSides(l, r *model.Envelope, lok, rok bool) []*model.Envelope {
	var out []*model.Envelope
	if lok {
		out = append(out, l)
	}
	if rok {
		out = append(out, r)
	}
	return out
}

func (f *FilteringConsumer) Tree(left, right *NodeRef) bool {
	// the roots carry no bounds
	if !f.matches(bothSides(refBounds(left), refBounds(right), left != nil, right != nil)...) {
		return false
	}
	return f.Delegate.Tree(left, right)
}

func (f *FilteringConsumer) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	var lb, rb *model.Envelope
	if left != nil {
		lb = left.Bounds
	}
	if right != nil {
		rb = right.Bounds
	}
	if !f.matches(bothSides(lb, rb, left != nil, right != nil)...) {
		return false
	}
	return f.Delegate.Bucket(lp, rp, index, left, right)
}

// Feature skips non-matching features, but never stops the walk
func (f *FilteringConsumer) Feature(left, right *NodeRef) bool {
	if !f.matches(bothSides(refBounds(left), refBounds(right), left != nil, right != nil)...) {
		return true
	}
	return f.Delegate.Feature(left, right)
}

// CancellableConsumer makes every callback decline once Cancel has been called, which stops the walk at the next feature.
type CancellableConsumer struct {
	ForwardingConsumer
	cancelled atomic.Bool
}

func NewCancellableConsumer(delegate Consumer) *CancellableConsumer {
	return &CancellableConsumer{ForwardingConsumer: ForwardingConsumer{Delegate: delegate}}
}

func (c *CancellableConsumer) Cancel() {
	c.cancelled.Store(true)
}

func (c *CancellableConsumer) IsCancelled() bool {
	return c.cancelled.Load()
}

func (c *CancellableConsumer) Tree(left, right *NodeRef) bool {
	return !c.IsCancelled() && c.Delegate.Tree(left, right)
}

func (c *CancellableConsumer) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	return !c.IsCancelled() && c.Delegate.Bucket(lp, rp, index, left, right)
}

func (c *CancellableConsumer) Feature(left, right *NodeRef) bool {
	return !c.IsCancelled() && c.Delegate.Feature(left, right)
}

// CountingConsumer tallies callbacks. Root trees are not counted.
type CountingConsumer struct {
	AbstractConsumer
	Added    atomic.Int64
	Removed  atomic.Int64
	Modified atomic.Int64
	Trees    atomic.Int64
	Buckets  atomic.Int64
}

func (c *CountingConsumer) Tree(left, right *NodeRef) bool {
	if left.Path() != "" || right.Path() != "" {
		c.Trees.Add(1)
	}
	return true
}

func (c *CountingConsumer) Bucket(lp, rp *NodeRef, index BucketIndex, left, right *model.Bucket) bool {
	c.Buckets.Add(1)
	return true
}

func (c *CountingConsumer) Feature(left, right *NodeRef) bool {
	switch {
	case left == nil:
		c.Added.Add(1)
	case right == nil:
		c.Removed.Add(1)
	default:
		c.Modified.Add(1)
	}
	return true
}

// Features is the total number of differing features.
func (c *CountingConsumer) Features() int64 {
	return c.Added.Load() + c.Removed.Load() + c.Modified.Load()
}

type ChangeType int

const (
	Added ChangeType = iota
	Modified
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "A"
	case Modified:
		return "M"
	case Removed:
		return "D"
	default:
		return "?"
	}
}

// DiffEntry is one differing node. Left is nil for additions, Right for removals.
type DiffEntry struct {
	Path  string
	Left  *model.Node
	Right *model.Node
	Type  ChangeType
}

func newEntry(left, right *NodeRef) DiffEntry {
	e := DiffEntry{}
	if left != nil {
		n := left.Node
		e.Left = &n
		e.Path = left.Path()
	}
	if right != nil {
		n := right.Node
		e.Right = &n
		e.Path = right.Path()
	}
	switch {
	case left == nil:
		e.Type = Added
	case right == nil:
		e.Type = Removed
	default:
		e.Type = Modified
	}
	return e
}

// ChangeCollector records differing features (and, optionally, trees) in memory.
type ChangeCollector struct {
	AbstractConsumer

	// also record differing tree nodes (not the roots)
	IncludeTrees bool

	lk      sync.Mutex
	entries []DiffEntry
}

func (c *ChangeCollector) Tree(left, right *NodeRef) bool {
	if c.IncludeTrees && (left.Path() != "" || right.Path() != "") {
		c.add(newEntry(left, right))
	}
	return true
}

func (c *ChangeCollector) Feature(left, right *NodeRef) bool {
	c.add(newEntry(left, right))
	return true
}

func (c *ChangeCollector) add(e DiffEntry) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.entries = append(c.entries, e)
}

// Entries returns what was collected, sorted by path. A type change (tree to feature or back) shows up as a removal and an addition at the same path, removal first.
func (c *ChangeCollector) Entries() []DiffEntry {
	c.lk.Lock()
	defer c.lk.Unlock()
	out := slices.Clone(c.entries)
	slices.SortStableFunc(out, func(a, b DiffEntry) int {
		if cmp := strings.Compare(a.Path, b.Path); cmp != 0 {
			return cmp
		}
		return int(b.Type) - int(a.Type)
	})
	return out
}
