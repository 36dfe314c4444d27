package admix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

func pairTree(t *testing.T) *sptree.Tree {
	t.Helper()
	tree, err := sptree.Parse("(A:50,B:50);")
	require.NoError(t, err)
	return tree
}

func TestResolveProportionPulse(t *testing.T) {
	tree := pairTree(t)
	iv, err := Resolve(tree, Edge{Source: ByLabels("A"), Dest: ByLabels("B"), Time: AtProportion(0.5), Rate: 0.1})
	require.NoError(t, err)

	assert.True(t, iv.IsPulse())
	assert.InDelta(t, 25, iv.Start, 1e-9)
	assert.Equal(t, 0, iv.Source)
	assert.Equal(t, 1, iv.Dest)
}

func TestResolveHeightOutsideSharedInterval(t *testing.T) {
	tree := pairTree(t)
	_, err := Resolve(tree, Edge{Source: ByLabels("A"), Dest: ByLabels("B"), Time: AtHeight(60), Rate: 0.1})
	assert.ErrorIs(t, err, simerr.ErrGeometry)

	iv, err := Resolve(tree, Edge{Source: ByIndex(0), Dest: ByIndex(1), Time: OverHeights(10, 40), Rate: 1e-4})
	require.NoError(t, err)
	assert.Equal(t, 10.0, iv.Start)
	assert.Equal(t, 40.0, iv.End)
}

func TestResolveUnspecifiedUsesQuartiles(t *testing.T) {
	tree, err := sptree.Parse("((A:100,B:100):100,(C:150,D:150):50);")
	require.NoError(t, err)

	// shared interval of A and C edges is [0,100]
	iv, err := Resolve(tree, Edge{Source: ByLabels("A"), Dest: ByLabels("C"), Rate: 1e-3})
	require.NoError(t, err)
	assert.InDelta(t, 25, iv.Start, 1e-9)
	assert.InDelta(t, 75, iv.End, 1e-9)

	// internal (A,B) edge spans [100,200], C edge spans [0,150]
	ab, err := tree.MRCA("A", "B")
	require.NoError(t, err)
	iv, err = Resolve(tree, Edge{Source: ByIndex(ab.Index), Dest: ByLabels("C"), Time: OverProportions(0, 1), Rate: 1e-3})
	require.NoError(t, err)
	assert.InDelta(t, 100, iv.Start, 1e-9)
	assert.InDelta(t, 150, iv.End, 1e-9)
}

func TestResolveGeometryFailures(t *testing.T) {
	tree, err := sptree.Parse("((A:100,B:100):100,(C:150,D:150):50);")
	require.NoError(t, err)
	ab, _ := tree.MRCA("A", "B")
	cd, _ := tree.MRCA("C", "D")

	cases := []Edge{
		{Source: ByLabels("A"), Dest: ByLabels("A")},
		{Source: ByIndex(tree.Root().Index), Dest: ByLabels("A")},
		{Source: ByIndex(ab.Index), Dest: ByLabels("A")},
		// A edge is [0,100], (C,D) edge is [150,200]
		{Source: ByLabels("A"), Dest: ByIndex(cd.Index)},
	}
	for i, edge := range cases {
		_, err := Resolve(tree, edge)
		assert.ErrorIs(t, err, simerr.ErrGeometry, "case %d", i)
	}
}

func TestValidateRejectsMalformedEdges(t *testing.T) {
	tree := pairTree(t)
	cases := []Edge{
		{Source: ByIndex(0), Dest: ByIndex(1), Time: AtProportion(1.5), Rate: 0.1},
		{Source: ByIndex(0), Dest: ByIndex(1), Time: OverProportions(0.8, 0.2), Rate: 0.1},
		{Source: ByIndex(0), Dest: ByIndex(1), Time: AtProportion(0.5), Rate: 2},
		{Source: ByIndex(0), Dest: ByIndex(1), Time: AtHeight(-1), Rate: 0.1},
		{Source: ByIndex(0), Dest: ByIndex(1), Time: TimeSpec{Kind: TimeKind(42)}, Rate: 0.1},
		{Source: ByIndex(0), Dest: ByIndex(9), Time: AtProportion(0.5), Rate: 0.1},
	}
	for i, edge := range cases {
		_, err := Resolve(tree, edge)
		assert.ErrorIs(t, err, simerr.ErrConfiguration, "case %d", i)
	}
}

func TestResolveAllFailsFastBeforeGeometry(t *testing.T) {
	tree := pairTree(t)
	edges := []Edge{
		{Source: ByIndex(0), Dest: ByIndex(0), Time: AtProportion(0.5), Rate: 0.1},
		{Source: ByIndex(0), Dest: ByIndex(1), Time: AtProportion(3), Rate: 0.1},
	}
	_, err := ResolveAll(tree, edges)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}
