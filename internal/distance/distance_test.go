package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

func TestPairwiseHammingAndJC(t *testing.T) {
	seqs := model.NewSeqArray(model.ShapeLoci, 2, 3, 4)
	// sample 1 differs from sample 0 at 2 of 8 sites, sample 2 at 4 of 8.
	seqs.Set(0, 1, 0, 1)
	seqs.Set(1, 1, 3, 2)
	for _, site := range []int{0, 1} {
		seqs.Set(0, 2, site, 3)
		seqs.Set(1, 2, site, 3)
	}
	names := []string{"A", "B", "C"}

	h, err := Pairwise(seqs, names, Hamming)
	require.NoError(t, err)
	d, ok := h.Get("A", "B")
	require.True(t, ok)
	assert.InDelta(t, 0.25, d, 1e-12)
	d, _ = h.Get("C", "A")
	assert.InDelta(t, 0.5, d, 1e-12)
	assert.Zero(t, h.Values[1][1])

	jc, err := Pairwise(seqs, names, JC)
	require.NoError(t, err)
	d, _ = jc.Get("A", "B")
	assert.InDelta(t, -0.75*math.Log(1-4.0/3.0*0.25), d, 1e-12)
}

func TestPairwiseSkipsMissing(t *testing.T) {
	seqs := model.NewSeqArray(model.ShapeSNPs, 1, 2, 4)
	seqs.Set(0, 0, 0, model.Missing)
	seqs.Set(0, 1, 0, 2)
	seqs.Set(0, 1, 1, 2)
	h, err := Pairwise(seqs, []string{"a", "b"}, Hamming)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, h.Values[0][1], 1e-12)
}

func TestJCSaturates(t *testing.T) {
	values, err := FromRows([][]uint8{{0, 0, 0, 0}, {1, 2, 3, 1}}, JC)
	require.NoError(t, err)
	assert.True(t, math.IsInf(values[0][1], 1))
}

func TestPairwiseErrors(t *testing.T) {
	_, err := Pairwise(nil, nil, Hamming)
	assert.ErrorIs(t, err, simerr.ErrDataState)

	_, err = ParseMethod("HKY")
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	m, err := ParseMethod("JC")
	require.NoError(t, err)
	assert.Equal(t, JC, m)
}
