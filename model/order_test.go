package model

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareNames(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, CompareNames("abc", "abc"))
	assert.Equal(-1, CompareNames("abc", "abd"))
	assert.Equal(-1, CompareNames("ab", "abc"))
	assert.Equal(1, CompareNames("b", "abc"))
	// byte order, not case-folded or locale aware
	assert.Equal(-1, CompareNames("Z", "a"))
	assert.Equal(-1, CompareNames("z", "é"))
	assert.Equal(-1, CompareNames("é", "日本"))
}

func TestSortNodesDeterministic(t *testing.T) {
	assert := assert.New(t)

	var nodes []Node
	for i := 0; i < 200; i++ {
		nodes = append(nodes, feature(fmt.Sprintf("node-%03d", i)))
	}
	want := slices.Clone(nodes)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := slices.Clone(nodes)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		SortNodes(shuffled)
		assert.Equal(names(want), names(shuffled))
	}
}

func TestMergeNodes(t *testing.T) {
	assert := assert.New(t)

	a := []Node{feature("a"), feature("c"), feature("e")}
	b := []Node{subtree("b"), subtree("d"), subtree("f"), subtree("g")}
	assert.Equal([]string{"a", "b", "c", "d", "e", "f", "g"}, names(MergeNodes(a, b)))
	assert.Equal([]string{"a", "c", "e"}, names(MergeNodes(a, nil)))
	assert.Empty(MergeNodes(nil, nil))
}
