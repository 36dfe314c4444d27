package infer

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcoal/internal/distance"
	"ipcoal/internal/model"
	"ipcoal/internal/rng"
	"ipcoal/internal/sampling"
	"ipcoal/internal/sim"
	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

type fakeSource struct {
	table []model.Record
	seqs  *model.SeqArray
	names []string
}

func (f fakeSource) Table() []model.Record { return f.table }
func (f fakeSource) Seqs() *model.SeqArray { return f.seqs }
func (f fakeSource) Names() []string       { return f.names }

// firstCell reports the first cell of the first row it is handed.
type firstCell struct {
	mu    sync.Mutex
	calls int
}

func (f *firstCell) Infer(_ []string, rows [][]uint8) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return strconv.Itoa(int(rows[0][0])), nil
}

func TestNJRecoversCherries(t *testing.T) {
	nj := &NJ{Method: distance.Hamming, Cap: 5, Precision: 6}
	rows := [][]uint8{{0, 0, 0, 0}, {0, 0, 0, 0}, {1, 1, 0, 0}, {1, 1, 0, 0}}
	tree, err := nj.Infer([]string{"A", "B", "C", "D"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "(C:0.000000,D:0.000000,(A:0.000000,B:0.000000):0.500000);", tree)
}

func TestNJSmallInputs(t *testing.T) {
	nj := NewNJ()
	tree, err := nj.Infer([]string{"A"}, [][]uint8{{0}})
	require.NoError(t, err)
	assert.Equal(t, "A;", tree)

	nj.Method = distance.Hamming
	tree, err = nj.Infer([]string{"A", "B"}, [][]uint8{{0, 1}, {0, 0}})
	require.NoError(t, err)
	assert.Equal(t, "(A:0.250000,B:0.250000);", tree)

	_, err = nj.Infer([]string{"A"}, nil)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestGeneTreesSkipsInvariantLoci(t *testing.T) {
	seqs := model.NewSeqArray(model.ShapeLoci, 2, 2, 4)
	seqs.Set(0, 0, 0, 2)
	src := fakeSource{
		seqs:  seqs,
		names: []string{"a", "b"},
		table: []model.Record{
			{Locus: 0, SNPs: 1, Length: 2},
			{Locus: 0, SNPs: 0, Length: 2},
			{Locus: 1, SNPs: 0, Length: 4},
		},
	}
	inf := &firstCell{}
	trees, err := GeneTrees(context.Background(), src, inf)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "2", ""}, trees)
	assert.Equal(t, 1, inf.calls)
}

func TestWindowsReadTheirOwnLocus(t *testing.T) {
	seqs := model.NewSeqArray(model.ShapeLoci, 2, 2, 4)
	seqs.Set(1, 0, 2, 3)
	seqs.Set(1, 1, 3, 1)
	src := fakeSource{seqs: seqs, names: []string{"a", "b"}}

	windows, err := Windows(context.Background(), src, 2, &firstCell{})
	require.NoError(t, err)
	require.Len(t, windows, 4)
	assert.Equal(t, Window{Locus: 0, Start: 0, End: 2, Length: 2, SNPs: 0, InferredTree: "0"}, windows[0])
	assert.Equal(t, Window{Locus: 1, Start: 2, End: 4, Length: 2, SNPs: 2, InferredTree: "3"}, windows[3])

	whole, err := Windows(context.Background(), src, 0, &firstCell{})
	require.NoError(t, err)
	assert.Len(t, whole, 2)
}

func TestInferenceNeedsLocusData(t *testing.T) {
	_, err := GeneTrees(context.Background(), fakeSource{}, NewNJ())
	assert.ErrorIs(t, err, simerr.ErrDataState)

	snps := fakeSource{seqs: model.NewSeqArray(model.ShapeSNPs, 1, 2, 3), names: []string{"a", "b"}}
	_, err = Windows(context.Background(), snps, 1, NewNJ())
	assert.ErrorIs(t, err, simerr.ErrDataState)
}

func TestGeneTreesOnSimulatedLoci(t *testing.T) {
	tree, err := sptree.Parse("((A:1000,B:1000):1000,C:2000);")
	require.NoError(t, err)
	m, err := sim.New(sim.Options{
		Tree:         tree,
		Ne:           1000,
		Samples:      sampling.Uniform(1),
		MutationRate: 1e-4,
		Seed:         rng.Seed(5),
	})
	require.NoError(t, err)
	require.NoError(t, m.SimLoci(context.Background(), 3, 200))

	trees, err := GeneTrees(context.Background(), m, NewNJ())
	require.NoError(t, err)
	require.Len(t, trees, len(m.Table()))
	require.NoError(t, m.SetInferredTrees(trees))
	for _, rec := range m.Table() {
		if rec.SNPs > 0 {
			assert.Contains(t, rec.InferredTree, "A:")
		}
	}
}
