package model

import (
	"slices"
	"strings"
)

// CompareNames is the canonical order over entry names: plain byte-wise comparison of the UTF-8 encoding, which is also unicode code point order. It is locale independent and total over distinct names.
//
// Tree hashes depend on this order; it must never change.
func CompareNames(a, b string) int {
	return strings.Compare(a, b)
}

// CanonicalNodeOrder compares nodes by name, for use with the slices package.
func CanonicalNodeOrder(a, b Node) int {
	return CompareNames(a.Name, b.Name)
}

func SortNodes(nodes []Node) {
	slices.SortFunc(nodes, CanonicalNodeOrder)
}

// Merges two canonically sorted node lists in to a new sorted list. If a name appears in both lists, both copies are kept (a first).
func MergeNodes(a, b []Node) []Node {
	out := make([]Node, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if CanonicalNodeOrder(a[i], b[j]) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
