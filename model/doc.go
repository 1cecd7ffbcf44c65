/*
Package model holds the immutable, content-addressed values the rest of revtree is built from: ObjectId, Node, Bucket and RevTree.

A RevTree is identified by the hash of its canonical contents: tree nodes and feature nodes in CanonicalNodeOrder, then buckets in index order (see HashTree). Equal content means equal id, so two trees can be compared in O(1), and identical subtrees are stored once.

Small trees are flat "leaf" trees. Once a tree has more than NormalizedSizeLimit(depth) direct children it is split in to buckets, by a hash of each child's name (BucketIndex). The sharding constants are part of the tree hash; see buckets.go.

This package does no I/O. Building trees incrementally lives in the builder package, and comparing them in the diff package.
*/
package model
