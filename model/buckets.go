package model

import (
	"github.com/spaolacci/murmur3"
)

// Tree sharding parameters.
//
// A tree at depth d (the root is depth 0) stays a flat leaf while it has at most NormalizedSizeLimit(d) direct children. Past that, its children are spread over up to MaxBuckets(d) buckets by BucketIndex(name, d), and each bucket is built as a tree at depth d+1.
//
// These constants are part of the hash: two implementations with different values agree on the ids of small (leaf) trees, but NOT on the id of any tree large enough to be bucketed. Changing them is a format break.
const (
	// Trees at this depth are never bucketed, whatever their size. At eight levels the fan-out product is 32*32*32*8*8*4*4*2 (~67M) shards.
	MaxDepth = 8
)

var bucketsPerLevel = [MaxDepth]int{32, 32, 32, 8, 8, 4, 4, 2}

// NormalizedSizeLimit returns the maximum number of direct children a tree at the given depth may hold before it is split in to buckets.
func NormalizedSizeLimit(depth int) int {
	if depth <= 2 {
		return 512
	}
	return 256
}

// MaxBuckets returns the bucket fan-out for a tree at the given depth.
func MaxBuckets(depth int) int {
	if depth < 0 {
		depth = 0
	}
	if depth >= MaxDepth {
		return bucketsPerLevel[MaxDepth-1]
	}
	return bucketsPerLevel[depth]
}

// BucketIndex returns the bucket a child named 'name' lands in when its parent tree, at 'depth', is bucketed.
//
// The index is a murmur3 hash of the name, seeded with the depth, so the assignment at each level is independent of the assignment at other levels, and of insertion order.
func BucketIndex(name string, depth int) int {
	return int(nameHash(name, depth) % uint32(MaxBuckets(depth)))
}

// nameHash is murmur3 x86_32 of the name, seeded with the depth. It goes through the streaming digest: murmur3.Sum32WithSeed walks the input with raw uintptr arithmetic, which the checkptr instrumentation enabled by -race rejects.
func nameHash(name string, depth int) uint32 {
	h := murmur3.New32WithSeed(uint32(depth))
	h.Write([]byte(name))
	return h.Sum32()
}

// Splits a list of nodes by bucket index at the given depth. Relative order within each group is preserved, so canonically sorted input yields canonically sorted groups.
func PartitionNodes(nodes []Node, depth int) map[int][]Node {
	out := make(map[int][]Node)
	for _, n := range nodes {
		idx := BucketIndex(n.Name, depth)
		out[idx] = append(out[idx], n)
	}
	return out
}
