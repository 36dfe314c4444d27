// Package missing masks simulated sequence arrays to emulate sequencing
// coverage and restriction-site allele dropout.
package missing

import (
	"math"
	"math/rand"

	"ipcoal/internal/metrics"
	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

type CoverageType string

const (
	CoverageLocus CoverageType = "locus"
	CoverageSite  CoverageType = "site"
)

type Options struct {
	// Coverage is the probability that a cell (site coverage) or a sample
	// row of a locus (locus coverage) is kept.
	Coverage     float64
	CutSites     [2]int
	CoverageType CoverageType
	Seed         *int64
}

func DefaultOptions() Options {
	return Options{Coverage: 1, CoverageType: CoverageLocus}
}

func (o Options) validate(seqs *model.SeqArray) error {
	if o.Coverage < 0 || o.Coverage > 1 || math.IsNaN(o.Coverage) {
		return simerr.Configf("coverage must lie in [0,1], got %v", o.Coverage)
	}
	switch o.CoverageType {
	case CoverageLocus, CoverageSite:
	default:
		return simerr.Configf("unknown coverage type %q", o.CoverageType)
	}
	if o.CutSites[0] < 0 || o.CutSites[1] < 0 {
		return simerr.Configf("cut sites must be >= 0, got %v", o.CutSites)
	}
	if seqs.Shape == model.ShapeSNPs && (o.CutSites[0] > 0 || o.CutSites[1] > 0) {
		return simerr.Configf("cut sites only apply to locus data")
	}
	return nil
}

// Apply sets masked cells of seqs to model.Missing in place and returns the
// number of cells masked. An array that already holds missing cells is
// refused. ancestral is laid out as [locus][site].
func Apply(seqs *model.SeqArray, ancestral []uint8, opts Options) (int, error) {
	if seqs == nil || len(seqs.Data) == 0 {
		return 0, simerr.DataStatef("no sequence data to mask")
	}
	if seqs.HasMissing() {
		return 0, simerr.Configf("missing data can only be applied to a dataset once")
	}
	if err := opts.validate(seqs); err != nil {
		return 0, err
	}
	cuts := opts.CutSites[0] > 0 || opts.CutSites[1] > 0
	if cuts && len(ancestral) != seqs.NLoci*seqs.NSites {
		return 0, simerr.DataStatef("ancestral array has %d sites, want %d", len(ancestral), seqs.NLoci*seqs.NSites)
	}

	var r *rand.Rand
	if opts.Seed != nil {
		r = rand.New(rand.NewSource(*opts.Seed))
	} else {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	drop := 1 - opts.Coverage

	for l := 0; l < seqs.NLoci; l++ {
		if opts.CoverageType == CoverageSite || seqs.Shape == model.ShapeSNPs {
			for s := 0; s < seqs.NSamples; s++ {
				row := seqs.Row(l, s)
				for i := range row {
					if r.Float64() < drop {
						row[i] = model.Missing
					}
				}
			}
		} else {
			for s := 0; s < seqs.NSamples; s++ {
				if r.Float64() < drop {
					maskRow(seqs.Row(l, s))
				}
			}
		}
		if !cuts {
			continue
		}

		anc := ancestral[l*seqs.NSites : (l+1)*seqs.NSites]
		if n := min(opts.CutSites[0], seqs.NSites); n > 0 {
			dropout(seqs, l, anc, 0, n)
		}
		if n := min(opts.CutSites[1], seqs.NSites); n > 0 {
			dropout(seqs, l, anc, seqs.NSites-n, seqs.NSites)
		}
	}

	masked := 0
	for _, v := range seqs.Data {
		if v == model.Missing {
			masked++
		}
	}
	metrics.AddMaskedCells(masked)
	return masked, nil
}

// dropout masks every row of locus l that differs from anc on [lo, hi).
// Cells already masked count as differing.
func dropout(seqs *model.SeqArray, l int, anc []uint8, lo, hi int) {
	for s := 0; s < seqs.NSamples; s++ {
		row := seqs.Row(l, s)
		for i := lo; i < hi; i++ {
			if row[i] != anc[i] {
				maskRow(row)
				break
			}
		}
	}
}

func maskRow(row []uint8) {
	for i := range row {
		row[i] = model.Missing
	}
}
