package sim

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"ipcoal/internal/coalescent"
	"ipcoal/internal/metrics"
	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

const (
	modeTrees = "trees"
	modeLoci  = "loci"
	modeSNPs  = "snps"
	modeTS    = "tree_sequence"
)

type locusSeeds struct {
	tree      int64
	mutation  int64
	ancestral []uint8
}

// SimTrees draws nloci independent recombining genealogies of nsites each
// without mutations. Pass nsites 0 when the model uses a rate map.
func (m *Model) SimTrees(ctx context.Context, nloci, nsites int) (err error) {
	started := time.Now()
	defer m.rng.Reset()
	defer func() { metrics.ObserveCall(modeTrees, started, err) }()
	m.clear()

	nsites, err = m.resolveSites(nloci, nsites)
	if err != nil {
		return err
	}
	seeds := make([]locusSeeds, nloci)
	for i := range seeds {
		seeds[i].tree = m.rng.TreeSeed()
	}

	seqs := make([]*coalescent.TreeSequence, nloci)
	err = m.forEachLocus(ctx, nloci, func(i int) error {
		ts, err := m.engine.SimAncestry(m.ancestryRequest(nsites, seeds[i].tree))
		if err != nil {
			return err
		}
		seqs[i] = ts
		return nil
	})
	if err != nil {
		return err
	}

	for lidx, ts := range seqs {
		m.table = append(m.table, m.records(lidx, ts, nil)...)
	}
	m.treeSeqs = seqs
	metrics.AddLoci(nloci)
	metrics.AddGenealogies(len(m.table))
	m.logger.Debug("simulated genealogies", "nloci", nloci, "nsites", nsites, "genealogies", len(m.table))
	return nil
}

// SimLoci draws nloci recombining loci of nsites each, overlays mutations
// and assembles the ancestral and sample sequence arrays.
func (m *Model) SimLoci(ctx context.Context, nloci, nsites int) (err error) {
	started := time.Now()
	defer m.rng.Reset()
	defer func() { metrics.ObserveCall(modeLoci, started, err) }()
	m.clear()

	nsites, err = m.resolveSites(nloci, nsites)
	if err != nil {
		return err
	}
	seeds := make([]locusSeeds, nloci)
	for i := range seeds {
		seeds[i].tree = m.rng.TreeSeed()
		seeds[i].mutation = m.rng.MutationSeed()
		seeds[i].ancestral = m.rng.Choice(m.subst.RootDistribution, nsites)
	}

	nsamples := m.samples.Total()
	seqs := model.NewSeqArray(model.ShapeLoci, nloci, nsamples, nsites)
	ancestral := make([]uint8, nloci*nsites)
	treeSeqs := make([]*coalescent.TreeSequence, nloci)
	tables := make([][]model.Record, nloci)

	err = m.forEachLocus(ctx, nloci, func(lidx int) error {
		ts, err := m.engine.SimAncestry(m.ancestryRequest(nsites, seeds[lidx].tree))
		if err != nil {
			return err
		}
		mts, err := m.engine.SimMutations(ts, m.mutationRequest(seeds[lidx].mutation))
		if err != nil {
			return err
		}

		anc := ancestral[lidx*nsites : (lidx+1)*nsites]
		copy(anc, seeds[lidx].ancestral)
		for _, site := range mts.Sites() {
			anc[site.Position] = site.Ancestral
		}
		for s := 0; s < nsamples; s++ {
			copy(seqs.Row(lidx, s), anc)
		}
		for _, site := range mts.Sites() {
			for s, g := range site.Genotypes {
				seqs.Set(lidx, s, site.Position, g)
			}
		}
		tables[lidx] = m.records(lidx, mts, mts.SiteCounts())
		treeSeqs[lidx] = mts
		return nil
	})
	if err != nil {
		return err
	}

	seqs.Permute(m.samples.Tips.Order)
	for _, rows := range tables {
		m.table = append(m.table, rows...)
	}
	m.seqs = seqs
	m.ancestral = ancestral
	m.treeSeqs = treeSeqs
	metrics.AddLoci(nloci)
	metrics.AddGenealogies(len(m.table))
	m.logger.Debug("simulated loci", "nloci", nloci, "nsites", nsites, "genealogies", len(m.table))
	return nil
}

// TreeSequence returns one mutated tree sequence of nsites. Stored results
// are left untouched.
func (m *Model) TreeSequence(ctx context.Context, nsites int) (ts *coalescent.TreeSequence, err error) {
	started := time.Now()
	defer m.rng.Reset()
	defer func() { metrics.ObserveCall(modeTS, started, err) }()

	if nsites, err = m.resolveSites(1, nsites); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	treeSeed := m.rng.TreeSeed()
	mutSeed := m.rng.MutationSeed()
	ancestry, err := m.engine.SimAncestry(m.ancestryRequest(nsites, treeSeed))
	if err != nil {
		return nil, err
	}
	return m.engine.SimMutations(ancestry, m.mutationRequest(mutSeed))
}

func (m *Model) resolveSites(nloci, nsites int) (int, error) {
	if nloci < 1 {
		return 0, simerr.Configf("nloci must be >= 1, got %d", nloci)
	}
	if m.rateMap != nil {
		if nsites != 0 {
			return 0, simerr.Configf("nsites and a recombination map cannot be used together; pass 0 to use the map length %d", m.rateMap.SequenceLength())
		}
		return m.rateMap.SequenceLength(), nil
	}
	if nsites < 1 {
		return 0, simerr.Configf("nsites must be >= 1, got %d", nsites)
	}
	return nsites, nil
}

func (m *Model) ancestryRequest(nsites int, seed int64) coalescent.AncestryRequest {
	req := coalescent.AncestryRequest{
		Samples:           m.samples.Sets,
		Demography:        m.graph,
		SequenceLength:    nsites,
		RecombinationRate: m.recomb,
		Seed:              seed,
	}
	if m.rateMap != nil {
		req.SequenceLength = 0
		req.RecombinationRate = 0
		req.RateMap = m.rateMap
	}
	return req
}

func (m *Model) mutationRequest(seed int64) coalescent.MutationRequest {
	return coalescent.MutationRequest{Rate: m.mut, Model: m.subst, Seed: seed}
}

func (m *Model) records(lidx int, ts *coalescent.TreeSequence, snps []int) []model.Record {
	out := make([]model.Record, 0, ts.NumTrees())
	for i, tree := range ts.Trees() {
		rec := model.Record{
			Locus:     lidx,
			Start:     tree.Left,
			End:       tree.Right,
			Length:    tree.Span(),
			TreeIndex: tree.Index,
			Genealogy: tree.Newick(m.samples.Tips.Labels, m.precision),
		}
		if snps != nil {
			rec.SNPs = snps[i]
		}
		out = append(out, rec)
	}
	return out
}

// forEachLocus runs fn for every locus on up to m.workers goroutines. Each
// call writes only to its own locus slot.
func (m *Model) forEachLocus(ctx context.Context, nloci int, fn func(lidx int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for lidx := 0; lidx < nloci; lidx++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lidx)
		})
	}
	return g.Wait()
}
