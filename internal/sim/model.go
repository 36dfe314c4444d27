// Package sim runs multi-locus coalescent simulations on a compiled species
// tree demography and stores the resulting tables and sequence arrays.
//
// A Model is not safe for concurrent top-level calls. Every top-level call
// replaces the stored results and resets both random streams before it
// returns, so a seeded model yields the same output on every call.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"ipcoal/internal/admix"
	"ipcoal/internal/coalescent"
	"ipcoal/internal/demography"
	"ipcoal/internal/model"
	"ipcoal/internal/rng"
	"ipcoal/internal/sampling"
	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
	"ipcoal/internal/subst"
)

const DefaultPrecision = 14

type Options struct {
	Tree *sptree.Tree
	// Ne, when positive, is applied to every node. Otherwise each node must
	// already carry its own Ne.
	Ne                float64
	Admixture         []admix.Edge
	Samples           sampling.Spec
	MutationRate      float64
	RecombinationRate float64
	RateMap           *coalescent.RateMap
	SubstModel        string
	Seed              *int64
	MutationSeed      *int64
	Precision         int
	Workers           int
	Engine            coalescent.Engine
	Logger            *slog.Logger
}

type Model struct {
	tree      *sptree.Tree
	graph     *demography.Graph
	intervals []admix.Interval
	samples   sampling.Config
	subst     subst.Model
	rng       *rng.Manager
	engine    coalescent.Engine
	logger    *slog.Logger

	mut       float64
	recomb    float64
	rateMap   *coalescent.RateMap
	precision int
	workers   int

	table     []model.Record
	seqs      *model.SeqArray
	ancestral []uint8
	treeSeqs  []*coalescent.TreeSequence
}

func New(opts Options) (*Model, error) {
	if opts.Tree == nil {
		return nil, simerr.Configf("a species tree is required")
	}
	if err := checkRate("mutation rate", opts.MutationRate); err != nil {
		return nil, err
	}
	if err := checkRate("recombination rate", opts.RecombinationRate); err != nil {
		return nil, err
	}
	if opts.RateMap != nil {
		if err := opts.RateMap.Validate(); err != nil {
			return nil, err
		}
	}

	tree := opts.Tree.Copy()
	if opts.Ne != 0 {
		if err := tree.SetNe(opts.Ne); err != nil {
			return nil, fmt.Errorf("%w: %w", simerr.ErrConfiguration, err)
		}
	}
	samples, err := sampling.Configure(tree, opts.Samples)
	if err != nil {
		return nil, err
	}
	intervals, err := admix.ResolveAll(tree, opts.Admixture)
	if err != nil {
		return nil, err
	}
	graph, err := demography.Compile(tree, intervals)
	if err != nil {
		return nil, err
	}

	name := opts.SubstModel
	if name == "" {
		name = subst.JC69().Name
	}
	sm, err := subst.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", simerr.ErrConfiguration, err)
	}

	m := &Model{
		tree:      tree,
		graph:     graph,
		intervals: intervals,
		samples:   samples,
		subst:     sm,
		rng:       rng.New(opts.Seed, opts.MutationSeed),
		engine:    opts.Engine,
		logger:    opts.Logger,
		mut:       opts.MutationRate,
		recomb:    opts.RecombinationRate,
		rateMap:   opts.RateMap,
		precision: opts.Precision,
		workers:   opts.Workers,
	}
	if m.engine == nil {
		m.engine = coalescent.NewSimulator()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.precision <= 0 {
		m.precision = DefaultPrecision
	}
	if m.workers <= 0 {
		m.workers = runtime.GOMAXPROCS(0)
	}

	m.logger.Debug("compiled demography",
		"populations", len(graph.Populations),
		"events", len(graph.Events),
		"samples", samples.Total(),
		"neff", tree.MaxNe(),
		"subst_model", sm.Name,
	)
	return m, nil
}

func checkRate(name string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return simerr.Configf("%s must be a finite value >= 0, got %v", name, v)
	}
	return nil
}

func (m *Model) Tree() *sptree.Tree {
	return m.tree
}

// Neff is the largest Ne over the tree nodes.
func (m *Model) Neff() float64 {
	return m.tree.MaxNe()
}

func (m *Model) Demography() *demography.Graph {
	return m.graph
}

func (m *Model) Intervals() []admix.Interval {
	return m.intervals
}

func (m *Model) Samples() sampling.Config {
	return m.samples
}

func (m *Model) SubstModel() subst.Model {
	return m.subst
}

// Table returns the records of the last call.
func (m *Model) Table() []model.Record {
	return m.table
}

// Seqs returns the sequence array of the last call with rows in
// alphabetical label order, or nil after a genealogy-only call.
func (m *Model) Seqs() *model.SeqArray {
	return m.seqs
}

// Ancestral returns the ancestral states of the last call laid out as
// [locus][site] for loci or [snp] for unlinked SNPs.
func (m *Model) Ancestral() []uint8 {
	return m.ancestral
}

// Names returns the sample labels in the row order of Seqs.
func (m *Model) Names() []string {
	return m.samples.Tips.Sorted()
}

// TreeSequences returns the engine output of the last call, one per locus
// or accepted SNP.
func (m *Model) TreeSequences() []*coalescent.TreeSequence {
	return m.treeSeqs
}

// SetInferredTrees stores one inferred tree per record.
func (m *Model) SetInferredTrees(trees []string) error {
	if len(trees) != len(m.table) {
		return simerr.DataStatef("have %d inferred trees for %d records", len(trees), len(m.table))
	}
	for i := range m.table {
		m.table[i].InferredTree = trees[i]
	}
	return nil
}

func (m *Model) clear() {
	m.table = nil
	m.seqs = nil
	m.ancestral = nil
	m.treeSeqs = nil
}
