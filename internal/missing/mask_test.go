package missing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcoal/internal/model"
	"ipcoal/internal/rng"
	"ipcoal/internal/simerr"
)

func lociArray(nloci, nsamples, nsites int) (*model.SeqArray, []uint8) {
	seqs := model.NewSeqArray(model.ShapeLoci, nloci, nsamples, nsites)
	return seqs, make([]uint8, nloci*nsites)
}

func TestSiteCoverageMasksAboutHalf(t *testing.T) {
	seqs, anc := lociArray(10, 20, 500)
	opts := Options{Coverage: 0.5, CoverageType: CoverageSite, Seed: rng.Seed(42)}
	masked, err := Apply(seqs, anc, opts)
	require.NoError(t, err)
	frac := float64(masked) / float64(len(seqs.Data))
	assert.InDelta(t, 0.5, frac, 0.01)
}

func TestApplyRefusesSecondPass(t *testing.T) {
	seqs, anc := lociArray(2, 4, 50)
	_, err := Apply(seqs, anc, Options{Coverage: 0.5, CoverageType: CoverageSite, Seed: rng.Seed(1)})
	require.NoError(t, err)
	_, err = Apply(seqs, anc, Options{Coverage: 0.5, CoverageType: CoverageSite, Seed: rng.Seed(1)})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestLocusCoverageDropsWholeRows(t *testing.T) {
	seqs, anc := lociArray(20, 10, 30)
	masked, err := Apply(seqs, anc, Options{Coverage: 0.5, CoverageType: CoverageLocus, Seed: rng.Seed(3)})
	require.NoError(t, err)
	assert.Zero(t, masked%30)
	for l := 0; l < seqs.NLoci; l++ {
		for s := 0; s < seqs.NSamples; s++ {
			row := seqs.Row(l, s)
			for _, v := range row {
				assert.Equal(t, row[0], v)
			}
		}
	}
}

func TestCutSitesDropDivergentRows(t *testing.T) {
	seqs, anc := lociArray(1, 3, 20)
	seqs.Set(0, 0, 1, 2)  // inside the 5' cut
	seqs.Set(0, 1, 18, 3) // inside the 3' cut
	seqs.Set(0, 2, 10, 1) // outside both cuts

	masked, err := Apply(seqs, anc, Options{Coverage: 1, CoverageType: CoverageLocus, CutSites: [2]int{4, 4}, Seed: rng.Seed(1)})
	require.NoError(t, err)
	assert.Equal(t, 40, masked)
	assert.Equal(t, model.Missing, seqs.At(0, 0, 15))
	assert.Equal(t, model.Missing, seqs.At(0, 1, 0))
	assert.Equal(t, uint8(1), seqs.At(0, 2, 10))
}

func TestSNPDataRejectsCutSites(t *testing.T) {
	seqs := model.NewSeqArray(model.ShapeSNPs, 1, 4, 10)
	_, err := Apply(seqs, make([]uint8, 10), Options{Coverage: 1, CoverageType: CoverageLocus, CutSites: [2]int{1, 0}})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)

	masked, err := Apply(seqs, nil, Options{Coverage: 0, CoverageType: CoverageLocus})
	require.NoError(t, err)
	assert.Equal(t, 40, masked)
}

func TestOptionErrors(t *testing.T) {
	seqs, anc := lociArray(1, 2, 5)
	_, err := Apply(seqs, anc, Options{Coverage: 1.5, CoverageType: CoverageSite})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	_, err = Apply(seqs, anc, Options{Coverage: 1, CoverageType: "read"})
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
	_, err = Apply(nil, nil, DefaultOptions())
	assert.ErrorIs(t, err, simerr.ErrDataState)
}
