// Package coalescent defines the genealogy and mutation engine consumed by
// the simulation orchestrator, the tree sequences it returns and a reference
// structured-coalescent implementation.
package coalescent

import (
	"errors"
	"math"
	"sort"

	"ipcoal/internal/demography"
	"ipcoal/internal/sampling"
	"ipcoal/internal/simerr"
	"ipcoal/internal/subst"
)

var ErrStalled = errors.New("lineages cannot coalesce")

// Engine draws genealogies and overlays mutations on them. Implementations
// must be safe for concurrent use.
type Engine interface {
	SimAncestry(req AncestryRequest) (*TreeSequence, error)
	SimMutations(ts *TreeSequence, req MutationRequest) (*TreeSequence, error)
}

// AncestryRequest asks for one realization of recombining genealogies.
// When RateMap is set it fixes the sequence length and replaces
// RecombinationRate.
type AncestryRequest struct {
	Samples           []sampling.SampleSet
	Demography        *demography.Graph
	SequenceLength    int
	RecombinationRate float64
	RateMap           *RateMap
	Seed              int64
}

func (r AncestryRequest) length() int {
	if r.RateMap != nil {
		return r.RateMap.SequenceLength()
	}
	return r.SequenceLength
}

func (r AncestryRequest) validate() error {
	if r.Demography == nil {
		return simerr.Configf("ancestry request has no demography")
	}
	if len(r.Samples) == 0 {
		return simerr.Configf("ancestry request has no samples")
	}
	if r.RateMap != nil {
		if err := r.RateMap.Validate(); err != nil {
			return err
		}
	}
	if r.length() < 1 {
		return simerr.Configf("sequence length must be >= 1, got %d", r.length())
	}
	if r.RecombinationRate < 0 || math.IsNaN(r.RecombinationRate) {
		return simerr.Configf("recombination rate must be >= 0, got %v", r.RecombinationRate)
	}
	for _, s := range r.Samples {
		if _, ok := r.Demography.PopulationIndex(s.Population); !ok {
			return simerr.Configf("sample population %q is not declared", s.Population)
		}
		if s.Count < 1 {
			return simerr.Configf("sample count for %q must be >= 1", s.Population)
		}
	}
	return nil
}

type MutationRequest struct {
	Rate  float64
	Model subst.Model
	Seed  int64
}

// RateMap is a piecewise-constant recombination rate. Positions holds the
// segment boundaries starting at 0; Rates[i] applies on
// [Positions[i], Positions[i+1]).
type RateMap struct {
	Positions []float64 `json:"positions" yaml:"positions"`
	Rates     []float64 `json:"rates" yaml:"rates"`
}

func UniformRateMap(length int, rate float64) RateMap {
	return RateMap{Positions: []float64{0, float64(length)}, Rates: []float64{rate}}
}

func (m RateMap) Validate() error {
	if len(m.Positions) < 2 || len(m.Rates) != len(m.Positions)-1 {
		return simerr.Configf("rate map needs len(positions) == len(rates)+1 >= 2")
	}
	if m.Positions[0] != 0 {
		return simerr.Configf("rate map must start at position 0")
	}
	for i, rate := range m.Rates {
		if !(m.Positions[i+1] > m.Positions[i]) {
			return simerr.Configf("rate map positions must increase strictly at %d", i+1)
		}
		if rate < 0 || math.IsNaN(rate) {
			return simerr.Configf("rate map rate %d must be >= 0, got %v", i, rate)
		}
	}
	return nil
}

func (m RateMap) SequenceLength() int {
	if len(m.Positions) == 0 {
		return 0
	}
	return int(m.Positions[len(m.Positions)-1])
}

// Mass is the integrated rate over [0, x).
func (m RateMap) Mass(x float64) float64 {
	total := 0.0
	for i, rate := range m.Rates {
		lo, hi := m.Positions[i], m.Positions[i+1]
		if x <= lo {
			break
		}
		total += rate * (math.Min(x, hi) - lo)
	}
	return total
}

// Position inverts Mass. It returns +Inf when mass exceeds the map total.
func (m RateMap) Position(mass float64) float64 {
	cum := 0.0
	for i, rate := range m.Rates {
		seg := rate * (m.Positions[i+1] - m.Positions[i])
		if rate > 0 && cum+seg >= mass {
			return m.Positions[i] + (mass-cum)/rate
		}
		cum += seg
	}
	return math.Inf(1)
}

func uniformOrMap(req AncestryRequest) RateMap {
	if req.RateMap != nil {
		return *req.RateMap
	}
	return UniformRateMap(req.SequenceLength, req.RecombinationRate)
}

// sampleNodes lists the population index and time of every sample node in
// sample-set order, followed by the order in which they enter the process.
func sampleNodes(req AncestryRequest) (pops []int, times []float64, entry []int) {
	for _, s := range req.Samples {
		idx, _ := req.Demography.PopulationIndex(s.Population)
		for k := 0; k < s.Count; k++ {
			pops = append(pops, idx)
			times = append(times, s.Time)
		}
	}
	entry = make([]int, len(pops))
	for i := range entry {
		entry[i] = i
	}
	sort.SliceStable(entry, func(a, b int) bool { return times[entry[a]] < times[entry[b]] })
	return pops, times, entry
}
