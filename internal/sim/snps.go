package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ipcoal/internal/coalescent"
	"ipcoal/internal/metrics"
	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

var ErrRejectionLimit = errors.New("snp rejection limit reached")

// Unset maxima fall back to this ceiling.
const defaultMaxima = 100000

type SNPOptions struct {
	NSNPs        int
	MinAlleles   int
	MaxAlleles   int
	MinMutations int
	MaxMutations int
	// RepeatOnTrees re-mutates a drawn genealogy until it yields an accepted
	// site instead of discarding it after one attempt.
	RepeatOnTrees bool
	// MaxAttempts caps the number of mutation draws. Zero means unbounded.
	MaxAttempts int
}

func DefaultSNPOptions(nsnps int) SNPOptions {
	return SNPOptions{NSNPs: nsnps, MinAlleles: 2, MinMutations: 1}
}

func (o SNPOptions) normalize() (SNPOptions, error) {
	if o.MaxMutations == 0 {
		o.MaxMutations = defaultMaxima
	}
	if o.MaxAlleles == 0 {
		o.MaxAlleles = defaultMaxima
	}
	switch {
	case o.NSNPs < 1:
		return o, simerr.Configf("nsnps must be >= 1, got %d", o.NSNPs)
	case o.MinMutations < 1:
		return o, simerr.Configf("min mutations must be >= 1, got %d", o.MinMutations)
	case o.MaxAlleles <= o.MinAlleles:
		return o, simerr.Configf("max alleles (%d) must be > min alleles (%d)", o.MaxAlleles, o.MinAlleles)
	case o.MaxMutations < o.MinMutations:
		return o, simerr.Configf("max mutations (%d) must be >= min mutations (%d)", o.MaxMutations, o.MinMutations)
	case o.MaxAttempts < 0:
		return o, simerr.Configf("max attempts must be >= 0, got %d", o.MaxAttempts)
	}
	return o, nil
}

func (o SNPOptions) accepts(ts *coalescent.TreeSequence) (coalescent.Site, bool) {
	sites := ts.Sites()
	if len(sites) == 0 {
		return coalescent.Site{}, false
	}
	site := sites[0]
	if n := site.NumMutations(); n < o.MinMutations || n > o.MaxMutations {
		return site, false
	}
	if n := site.ObservedAlleles(); n < o.MinAlleles || n > o.MaxAlleles {
		return site, false
	}
	return site, true
}

// SimSNPs draws single-site genealogies until opts.NSNPs unlinked sites pass
// the mutation and allele filters. Rejected draws are not errors.
func (m *Model) SimSNPs(ctx context.Context, opts SNPOptions) (err error) {
	started := time.Now()
	defer m.rng.Reset()
	defer func() { metrics.ObserveCall(modeSNPs, started, err) }()
	m.clear()

	if opts, err = opts.normalize(); err != nil {
		return err
	}
	if m.rateMap != nil {
		return simerr.Configf("unlinked SNPs cannot be drawn with a recombination map")
	}

	nsamples := m.samples.Total()
	seqs := model.NewSeqArray(model.ShapeSNPs, 1, nsamples, opts.NSNPs)
	ancestral := make([]uint8, opts.NSNPs)
	req := m.ancestryRequest(1, 0)
	req.RecombinationRate = 0

	attempts := 0
	draw := func(ts *coalescent.TreeSequence) (*coalescent.TreeSequence, coalescent.Site, bool, error) {
		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			return nil, coalescent.Site{}, false, fmt.Errorf("%w: %d of %d snps accepted after %d attempts",
				ErrRejectionLimit, len(m.table), opts.NSNPs, attempts)
		}
		attempts++
		mts, err := m.engine.SimMutations(ts, m.mutationRequest(m.rng.MutationSeed()))
		if err != nil {
			return nil, coalescent.Site{}, false, err
		}
		site, ok := opts.accepts(mts)
		if !ok {
			metrics.SNPRejected()
		}
		return mts, site, ok, nil
	}

	for len(m.table) < opts.NSNPs {
		if err := ctx.Err(); err != nil {
			m.clear()
			return err
		}
		req.Seed = m.rng.TreeSeed()
		ts, err := m.engine.SimAncestry(req)
		if err != nil {
			m.clear()
			return err
		}

		mts, site, ok, err := draw(ts)
		for err == nil && !ok && opts.RepeatOnTrees {
			if err = ctx.Err(); err != nil {
				break
			}
			mts, site, ok, err = draw(ts)
		}
		if err != nil {
			if errors.Is(err, ErrRejectionLimit) {
				m.logger.Warn("snp simulation stopped at attempt ceiling",
					"accepted", len(m.table), "requested", opts.NSNPs, "attempts", attempts)
			}
			m.clear()
			return err
		}
		if !ok {
			continue
		}

		idx := len(m.table)
		for s, g := range site.Genotypes {
			seqs.Set(0, s, idx, g)
		}
		ancestral[idx] = site.Ancestral
		m.table = append(m.table, model.Record{
			Locus:     idx,
			Start:     0,
			End:       1,
			Length:    1,
			SNPs:      1,
			TreeIndex: 0,
			Genealogy: ts.First().Newick(m.samples.Tips.Labels, m.precision),
		})
		m.treeSeqs = append(m.treeSeqs, mts)
		metrics.SNPAccepted()
	}

	seqs.Permute(m.samples.Tips.Order)
	m.seqs = seqs
	m.ancestral = ancestral
	metrics.AddGenealogies(len(m.table))
	m.logger.Debug("simulated snps", "nsnps", opts.NSNPs, "attempts", attempts)
	return nil
}
