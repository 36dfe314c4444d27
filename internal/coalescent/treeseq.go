package coalescent

import (
	"strconv"
	"strings"
)

// Tree is the genealogy of one non-recombining interval [Left, Right).
// Nodes 0..NumSamples-1 are the samples; the root is the last node.
type Tree struct {
	Index      int
	Left       int
	Right      int
	NumSamples int
	Parent     []int
	Time       []float64
}

func (t *Tree) Span() int {
	return t.Right - t.Left
}

func (t *Tree) Root() int {
	return len(t.Parent) - 1
}

func (t *Tree) Height() float64 {
	return t.Time[t.Root()]
}

func (t *Tree) TotalBranchLength() float64 {
	total := 0.0
	for node, p := range t.Parent {
		if p >= 0 {
			total += t.Time[p] - t.Time[node]
		}
	}
	return total
}

// Children lists child nodes in ascending node order.
func (t *Tree) Children() [][]int {
	children := make([][]int, len(t.Parent))
	for node, p := range t.Parent {
		if p >= 0 {
			children[p] = append(children[p], node)
		}
	}
	return children
}

// Newick writes the genealogy with branch lengths at the given precision.
// Sample i is written as labels[i], or as its node number when labels is nil.
func (t *Tree) Newick(labels []string, precision int) string {
	children := t.Children()
	var b strings.Builder
	var write func(node int)
	write = func(node int) {
		if kids := children[node]; len(kids) > 0 {
			b.WriteByte('(')
			for i, child := range kids {
				if i > 0 {
					b.WriteByte(',')
				}
				write(child)
			}
			b.WriteByte(')')
		} else if labels != nil && node < len(labels) {
			b.WriteString(labels[node])
		} else {
			b.WriteString(strconv.Itoa(node))
		}
		if p := t.Parent[node]; p >= 0 {
			b.WriteByte(':')
			b.WriteString(strconv.FormatFloat(t.Time[p]-t.Time[node], 'f', precision, 64))
		}
	}
	write(t.Root())
	b.WriteByte(';')
	return b.String()
}

type Mutation struct {
	Node    int     `json:"node"`
	Time    float64 `json:"time"`
	Derived uint8   `json:"derived"`
}

// Site is a position carrying at least one mutation. Genotypes holds the
// allele index of every sample.
type Site struct {
	Position  int        `json:"position"`
	Ancestral uint8      `json:"ancestral"`
	Mutations []Mutation `json:"mutations"`
	Genotypes []uint8    `json:"genotypes"`
}

func (s Site) NumMutations() int {
	return len(s.Mutations)
}

// ObservedAlleles counts distinct allele states among the samples.
func (s Site) ObservedAlleles() int {
	var seen [256]bool
	n := 0
	for _, g := range s.Genotypes {
		if !seen[g] {
			seen[g] = true
			n++
		}
	}
	return n
}

// TreeSequence is a run of genealogies tiling [0, SequenceLength) with an
// optional set of mutated sites sorted by position.
type TreeSequence struct {
	SequenceLength int
	NumSamples     int

	trees []*Tree
	sites []Site
}

func (ts *TreeSequence) Trees() []*Tree {
	return ts.trees
}

func (ts *TreeSequence) NumTrees() int {
	return len(ts.trees)
}

func (ts *TreeSequence) First() *Tree {
	return ts.trees[0]
}

// Breakpoints returns the interval boundaries including 0 and the length.
func (ts *TreeSequence) Breakpoints() []int {
	out := make([]int, 0, len(ts.trees)+1)
	for _, t := range ts.trees {
		out = append(out, t.Left)
	}
	return append(out, ts.SequenceLength)
}

func (ts *TreeSequence) Sites() []Site {
	return ts.sites
}

func (ts *TreeSequence) NumMutations() int {
	n := 0
	for _, s := range ts.sites {
		n += len(s.Mutations)
	}
	return n
}

// SiteCounts returns the number of sites falling in each genealogy.
func (ts *TreeSequence) SiteCounts() []int {
	counts := make([]int, len(ts.trees))
	k := 0
	for _, s := range ts.sites {
		for k < len(ts.trees)-1 && s.Position >= ts.trees[k].Right {
			k++
		}
		counts[k]++
	}
	return counts
}

// GenotypeMatrix returns one row of sample genotypes per site.
func (ts *TreeSequence) GenotypeMatrix() [][]uint8 {
	out := make([][]uint8, len(ts.sites))
	for i, s := range ts.sites {
		out[i] = append([]uint8(nil), s.Genotypes...)
	}
	return out
}

func (ts *TreeSequence) withSites(sites []Site) *TreeSequence {
	return &TreeSequence{
		SequenceLength: ts.SequenceLength,
		NumSamples:     ts.NumSamples,
		trees:          ts.trees,
		sites:          sites,
	}
}
