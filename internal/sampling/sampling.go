// Package sampling maps per-tip sample counts onto leaf populations and
// builds the tip labels used to relabel simulation output.
package sampling

import (
	"fmt"
	"sort"

	"ipcoal/internal/demography"
	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

type specKind int

const (
	uniform specKind = iota
	byIndex
	byLabel
)

// Spec is the number of haploid genomes drawn from each tip.
type Spec struct {
	kind    specKind
	n       int
	indices map[int]int
	labels  map[string]int
}

func Uniform(n int) Spec {
	return Spec{kind: uniform, n: n}
}

func ByIndex(counts map[int]int) Spec {
	return Spec{kind: byIndex, indices: counts}
}

func ByLabel(counts map[string]int) Spec {
	return Spec{kind: byLabel, labels: counts}
}

type SampleSet struct {
	Population string  `json:"population"`
	Count      int     `json:"count"`
	Time       float64 `json:"time"`
}

// TipMap labels simulation tips. Labels[i] names simulation tip i and
// Labels[Order[k]] is the k-th label in alphabetical order.
type TipMap struct {
	Labels []string
	Order  []int
}

// Sorted returns labels in alphabetical order.
func (m TipMap) Sorted() []string {
	out := make([]string, len(m.Order))
	for k, idx := range m.Order {
		out[k] = m.Labels[idx]
	}
	return out
}

func (m TipMap) Len() int {
	return len(m.Labels)
}

type Config struct {
	Sets []SampleSet
	Tips TipMap
}

// Total is the number of sampled haploid genomes.
func (c Config) Total() int {
	total := 0
	for _, s := range c.Sets {
		total += s.Count
	}
	return total
}

// Configure resolves the sample spec against the tree leaves.
func Configure(tree *sptree.Tree, spec Spec) (Config, error) {
	leaves := tree.Leaves()
	counts := make(map[int]int, len(leaves))

	switch spec.kind {
	case uniform:
		for _, leaf := range leaves {
			counts[leaf.Index] = spec.n
		}
	case byIndex:
		for idx, n := range spec.indices {
			node, err := tree.Node(idx)
			if err != nil || !node.IsLeaf() {
				return Config{}, simerr.Configf("sample key %d is not a tip index", idx)
			}
			counts[idx] = n
		}
	case byLabel:
		for label, n := range spec.labels {
			leaf, err := tree.Leaf(label)
			if err != nil {
				return Config{}, simerr.Configf("sample key %q is not a tip name", label)
			}
			counts[leaf.Index] = n
		}
	default:
		return Config{}, simerr.Configf("unknown sample spec")
	}

	cfg := Config{Sets: make([]SampleSet, 0, len(leaves))}
	singles := true
	for _, leaf := range leaves {
		n, ok := counts[leaf.Index]
		if !ok {
			return Config{}, simerr.Configf("no sample count for tip %q (index %d)", leaf.Name, leaf.Index)
		}
		if n < 1 {
			return Config{}, simerr.Configf("sample count for tip %q must be >= 1, got %d", leaf.Name, n)
		}
		if n != 1 {
			singles = false
		}
		cfg.Sets = append(cfg.Sets, SampleSet{
			Population: demography.LeafPopulation(leaf.Index),
			Count:      n,
			Time:       leaf.Height,
		})
	}

	for i, set := range cfg.Sets {
		name := leaves[i].Name
		if singles {
			cfg.Tips.Labels = append(cfg.Tips.Labels, name)
			continue
		}
		for k := 0; k < set.Count; k++ {
			cfg.Tips.Labels = append(cfg.Tips.Labels, fmt.Sprintf("%s_%d", name, k))
		}
	}
	cfg.Tips.Order = alphaOrder(cfg.Tips.Labels)
	return cfg, nil
}

func alphaOrder(labels []string) []int {
	order := make([]int, len(labels))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return labels[order[a]] < labels[order[b]]
	})
	return order
}
