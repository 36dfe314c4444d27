package coalescent

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"ipcoal/internal/demography"
	"ipcoal/internal/simerr"
)

// Simulator is the reference Engine. Genealogies follow a structured
// coalescent over the compiled demography with a pairwise coalescence rate
// of 1/(2*Ne) per generation. Recombination is approximated: at each
// breakpoint an independent genealogy is drawn, and breakpoints fall at
// Exponential(recombination mass * total branch length) distances.
type Simulator struct{}

func NewSimulator() *Simulator {
	return &Simulator{}
}

type lineage struct {
	node int
	pop  int
}

type epochPlan struct {
	sizes  []float64
	index  map[string]int
	events []demography.Event

	samplePops  []int
	sampleTimes []float64
	entry       []int
}

func (s *Simulator) SimAncestry(req AncestryRequest) (*TreeSequence, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	plan := newEpochPlan(req)
	r := rand.New(rand.NewSource(req.Seed))
	length := req.length()
	rates := uniformOrMap(req)

	ts := &TreeSequence{SequenceLength: length, NumSamples: len(plan.samplePops)}
	left := 0
	for left < length {
		tree, err := plan.genealogy(r)
		if err != nil {
			return nil, err
		}
		tree.Index = len(ts.trees)
		tree.Left = left

		right := length
		if b := tree.TotalBranchLength(); b > 0 {
			target := rates.Mass(float64(left)) + r.ExpFloat64()/b
			if pos := rates.Position(target); pos < float64(length) {
				right = int(math.Ceil(pos))
				if right <= left {
					right = left + 1
				}
				if right > length {
					right = length
				}
			}
		}
		tree.Right = right
		ts.trees = append(ts.trees, tree)
		left = right
	}
	return ts, nil
}

func newEpochPlan(req AncestryRequest) *epochPlan {
	g := req.Demography
	plan := &epochPlan{
		sizes:  make([]float64, len(g.Populations)),
		index:  make(map[string]int, len(g.Populations)),
		events: g.Events,
	}
	for i, p := range g.Populations {
		plan.sizes[i] = p.InitialSize
		plan.index[p.Name] = i
	}
	plan.samplePops, plan.sampleTimes, plan.entry = sampleNodes(req)
	return plan
}

// genealogy runs the coalescent backward in time until a single lineage is
// left. Samples enter at their sampling time before events at that time.
func (p *epochPlan) genealogy(r *rand.Rand) (*Tree, error) {
	n := len(p.samplePops)
	tree := &Tree{
		NumSamples: n,
		Parent:     make([]int, n, 2*n-1),
		Time:       append(make([]float64, 0, 2*n-1), p.sampleTimes...),
	}
	for i := range tree.Parent {
		tree.Parent[i] = -1
	}

	npop := len(p.sizes)
	mig := make([][]float64, npop)
	for i := range mig {
		mig[i] = make([]float64, npop)
	}

	var lineages []lineage
	t := 0.0
	si, ei := 0, 0
	for {
		for si < n && p.sampleTimes[p.entry[si]] <= t {
			node := p.entry[si]
			lineages = append(lineages, lineage{node: node, pop: p.samplePops[node]})
			si++
		}
		for ei < len(p.events) && p.events[ei].Time <= t {
			p.apply(r, p.events[ei], lineages, mig)
			ei++
		}
		if len(lineages) == 1 && si == n {
			break
		}

		next := math.Inf(1)
		if ei < len(p.events) {
			next = p.events[ei].Time
		}
		if si < n && p.sampleTimes[p.entry[si]] < next {
			next = p.sampleTimes[p.entry[si]]
		}

		counts := make([]int, npop)
		for _, l := range lineages {
			counts[l.pop]++
		}
		coal := make([]float64, npop)
		total := 0.0
		for pop, k := range counts {
			if k > 1 {
				coal[pop] = float64(k*(k-1)/2) / (2 * p.sizes[pop])
				total += coal[pop]
			}
		}
		out := make([]float64, len(lineages))
		for i, l := range lineages {
			for _, rate := range mig[l.pop] {
				out[i] += rate
			}
			total += out[i]
		}

		if total > 0 {
			dt := r.ExpFloat64() / total
			if t+dt < next {
				t += dt
				u := r.Float64() * total
				pop, ok := pick(coal, u)
				i, _ := pick(out, u-sum(coal))
				if ok || i < 0 {
					lineages = coalesce(r, tree, lineages, pop, t)
				} else {
					lineages[i].pop = pickIndex(r, mig[lineages[i].pop])
				}
				continue
			}
		}
		if math.IsInf(next, 1) {
			return nil, fmt.Errorf("%w: %d lineages remain at time %g", ErrStalled, len(lineages), t)
		}
		t = next
	}
	return tree, nil
}

func (p *epochPlan) apply(r *rand.Rand, e demography.Event, lineages []lineage, mig [][]float64) {
	switch e.Kind {
	case demography.Split:
		anc := p.index[e.Ancestral[0]]
		derived := make(map[int]bool, len(e.Derived))
		for _, name := range e.Derived {
			idx := p.index[name]
			derived[idx] = true
			for j := range mig {
				mig[idx][j] = 0
				mig[j][idx] = 0
			}
		}
		for i := range lineages {
			if derived[lineages[i].pop] {
				lineages[i].pop = anc
			}
		}
	case demography.Admixture:
		from := p.index[e.Derived[0]]
		for i := range lineages {
			if lineages[i].pop != from {
				continue
			}
			k := pickIndex(r, e.Proportions)
			lineages[i].pop = p.index[e.Ancestral[k]]
		}
	case demography.MigrationRateChange:
		mig[p.index[e.Source]][p.index[e.Dest]] = e.Rate
	}
}

func coalesce(r *rand.Rand, tree *Tree, lineages []lineage, pop int, t float64) []lineage {
	var members []int
	for i, l := range lineages {
		if l.pop == pop {
			members = append(members, i)
		}
	}
	a := r.Intn(len(members))
	b := r.Intn(len(members) - 1)
	if b >= a {
		b++
	}
	i, j := members[a], members[b]
	if i > j {
		i, j = j, i
	}

	parent := len(tree.Parent)
	tree.Parent = append(tree.Parent, -1)
	tree.Time = append(tree.Time, t)
	tree.Parent[lineages[i].node] = parent
	tree.Parent[lineages[j].node] = parent

	lineages[i] = lineage{node: parent, pop: pop}
	return append(lineages[:j], lineages[j+1:]...)
}

// pick walks the weights with u. It reports false when u lies past the
// total, returning the last positive index.
func pick(weights []float64, u float64) (int, bool) {
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if u < w {
			return i, true
		}
		last = i
		u -= w
	}
	return last, false
}

func pickIndex(r *rand.Rand, weights []float64) int {
	u := r.Float64() * sum(weights)
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if u < w {
			return i
		}
		u -= w
	}
	return last
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// SimMutations overlays finite-site mutations. Each branch receives
// Poisson(rate * length * span) mutations at uniform integer positions;
// states evolve from a root draw through the model transition matrix.
func (s *Simulator) SimMutations(ts *TreeSequence, req MutationRequest) (*TreeSequence, error) {
	if ts == nil {
		return nil, simerr.DataStatef("no tree sequence to mutate")
	}
	if req.Rate < 0 || math.IsNaN(req.Rate) {
		return nil, simerr.Configf("mutation rate must be >= 0, got %v", req.Rate)
	}
	if err := req.Model.Validate(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(req.Seed))

	var sites []Site
	for _, tree := range ts.trees {
		byPos := make(map[int][]Mutation)
		for node, parent := range tree.Parent {
			if parent < 0 {
				continue
			}
			top, bottom := tree.Time[parent], tree.Time[node]
			mean := req.Rate * (top - bottom) * float64(tree.Span())
			for k := poisson(r, mean); k > 0; k-- {
				pos := tree.Left + r.Intn(tree.Span())
				byPos[pos] = append(byPos[pos], Mutation{Node: node, Time: bottom + r.Float64()*(top-bottom)})
			}
		}
		positions := make([]int, 0, len(byPos))
		for pos := range byPos {
			positions = append(positions, pos)
		}
		sort.Ints(positions)
		for _, pos := range positions {
			sites = append(sites, evolveSite(r, tree, req, pos, byPos[pos]))
		}
	}
	return ts.withSites(sites), nil
}

func evolveSite(r *rand.Rand, tree *Tree, req MutationRequest, pos int, muts []Mutation) Site {
	sort.SliceStable(muts, func(a, b int) bool { return muts[a].Time > muts[b].Time })
	site := Site{Position: pos, Ancestral: uint8(pickIndex(r, req.Model.RootDistribution))}

	state := make(map[int]uint8, len(muts))
	above := func(node int) uint8 {
		for ; node >= 0; node = tree.Parent[node] {
			if s, ok := state[node]; ok {
				return s
			}
		}
		return site.Ancestral
	}
	for _, m := range muts {
		m.Derived = uint8(pickIndex(r, req.Model.Transition[above(m.Node)]))
		state[m.Node] = m.Derived
		site.Mutations = append(site.Mutations, m)
	}
	site.Genotypes = make([]uint8, tree.NumSamples)
	for i := range site.Genotypes {
		site.Genotypes[i] = above(i)
	}
	return site
}

// poisson uses inversion for small means and a normal approximation above.
func poisson(r *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > 500 {
		k := int(math.Round(mean + math.Sqrt(mean)*r.NormFloat64()))
		if k < 0 {
			return 0
		}
		return k
	}
	limit := math.Exp(-mean)
	k := 0
	prod := r.Float64()
	for prod > limit {
		k++
		prod *= r.Float64()
	}
	return k
}
