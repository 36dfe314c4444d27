package sptree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndexesLeavesThenPostOrderInternals(t *testing.T) {
	tree, err := Parse("((A:50,B:50):50,C:100);")
	require.NoError(t, err)

	require.Equal(t, 5, tree.Len())
	require.Equal(t, 3, tree.NLeaves())
	assert.Equal(t, []string{"A", "B", "C"}, tree.LeafNames())

	ab, err := tree.Node(3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{ab.Children[0].Name, ab.Children[1].Name})
	assert.Equal(t, 4, tree.Root().Index)
	assert.Equal(t, []float64{0, 0, 0, 50, 100}, tree.Heights())
}

func TestParseNonUltrametricTipHeights(t *testing.T) {
	tree, err := Parse("(A:100,B:60);")
	require.NoError(t, err)

	b, err := tree.Leaf("B")
	require.NoError(t, err)
	assert.InDelta(t, 40, b.Height, 1e-9)
	assert.InDelta(t, 100, tree.Root().Height, 1e-9)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"(A:1,B:1)",
		"(A:1,B:x);",
		"(A:1,:1);",
		"(A:1,A:1);",
		"(A:1,B:-1);",
	} {
		_, err := Parse(input)
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, ErrNewick), input)
	}
}

func TestParseEmptyIsSinglePopulation(t *testing.T) {
	tree, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
	assert.True(t, tree.Root().IsLeaf())
}

func TestMRCAAndAncestry(t *testing.T) {
	tree, err := Parse("((A:50,B:50):50,C:100);")
	require.NoError(t, err)

	mrca, err := tree.MRCA("A", "B")
	require.NoError(t, err)
	assert.Equal(t, 3, mrca.Index)

	root, err := tree.MRCA("A", "C")
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), root)

	a, _ := tree.Leaf("A")
	assert.True(t, tree.IsAncestor(mrca, a))
	assert.False(t, tree.IsAncestor(a, mrca))

	_, err = tree.MRCA("Z")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNeChecksAndCopy(t *testing.T) {
	tree, err := Parse("(A:10,B:10);")
	require.NoError(t, err)
	assert.ErrorIs(t, tree.CheckNe(), ErrMissingNe)

	require.NoError(t, tree.SetNe(1000))
	require.NoError(t, tree.SetNodeNe(0, 5000))
	require.NoError(t, tree.CheckNe())
	assert.Equal(t, 5000.0, tree.MaxNe())
	assert.Error(t, tree.SetNe(0))

	clone := tree.Copy()
	require.NoError(t, clone.SetNodeNe(0, 7))
	a, _ := tree.Node(0)
	assert.Equal(t, 5000.0, a.Ne)
	assert.Equal(t, tree.Heights(), clone.Heights())
}
