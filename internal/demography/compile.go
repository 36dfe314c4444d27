package demography

import (
	"fmt"
	"sort"
	"strings"

	"ipcoal/internal/admix"
	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

// LeafPopulation is the deterministic population name of a tree node.
func LeafPopulation(idx int) string {
	return fmt.Sprintf("n%d", idx)
}

// Tie-break ranks for events at equal time. A pulse at the very top of its
// shared interval must be applied before the parent split absorbs its branch;
// any other pulse needs the splits at that time applied first.
const (
	rankTopAdmixture = iota
	rankSplit
	rankAdmixture
	rankMigration
)

type pending struct {
	kind     EventKind
	rank     int
	time     float64
	node     int
	interval admix.Interval
	pair     *[2]string
	end      bool
}

// Compile builds the demographic graph. Node identities are tracked in a
// side map from node index to the population currently representing the
// branch above it; the tree itself is never modified.
func Compile(tree *sptree.Tree, intervals []admix.Interval) (*Graph, error) {
	if err := tree.CheckNe(); err != nil {
		return nil, simerr.Configf("%v", err)
	}

	g := &Graph{index: map[string]int{}}
	current := make(map[int]string, tree.Len())
	for _, leaf := range tree.Leaves() {
		name := LeafPopulation(leaf.Index)
		if err := g.addPopulation(Population{
			Name:            name,
			InitialSize:     leaf.Ne,
			Description:     leaf.Name,
			SamplingTime:    leaf.Height,
			InitiallyActive: true,
		}); err != nil {
			return nil, err
		}
		current[leaf.Index] = name
	}

	var queue []pending
	for _, n := range tree.Nodes() {
		if !n.IsLeaf() {
			queue = append(queue, pending{kind: Split, rank: rankSplit, time: n.Height, node: n.Index})
		}
	}
	for _, iv := range intervals {
		if iv.Start > iv.End {
			return nil, simerr.Configf("admixture interval %d->%d is reversed", iv.Source, iv.Dest)
		}
		if iv.IsPulse() {
			rank, err := pulseRank(tree, iv)
			if err != nil {
				return nil, err
			}
			queue = append(queue, pending{kind: Admixture, rank: rank, time: iv.Start, interval: iv})
			continue
		}
		pair := &[2]string{}
		queue = append(queue,
			pending{kind: MigrationRateChange, rank: rankMigration, time: iv.Start, interval: iv, pair: pair},
			pending{kind: MigrationRateChange, rank: rankMigration, time: iv.End, interval: iv, pair: pair, end: true},
		)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].time != queue[j].time {
			return queue[i].time < queue[j].time
		}
		return queue[i].rank < queue[j].rank
	})

	for _, p := range queue {
		switch p.kind {
		case Split:
			node, err := tree.Node(p.node)
			if err != nil {
				return nil, err
			}
			derived := make([]string, len(node.Children))
			for i, c := range node.Children {
				derived[i] = current[c.Index]
			}
			sorted := append([]string(nil), derived...)
			sort.Strings(sorted)
			ancestral := strings.Join(sorted, "_")
			if err := g.addPopulation(Population{
				Name:         ancestral,
				InitialSize:  node.Ne,
				Description:  node.Name,
				SamplingTime: node.Height,
			}); err != nil {
				return nil, err
			}
			g.Events = append(g.Events, Event{Kind: Split, Time: p.time, Derived: derived, Ancestral: []string{ancestral}})
			current[node.Index] = ancestral

		case Admixture:
			src, err := tree.Node(p.interval.Source)
			if err != nil {
				return nil, err
			}
			if _, ok := current[p.interval.Dest]; !ok {
				return nil, simerr.Geometryf("admixture dest %d is not active at %v", p.interval.Dest, p.time)
			}
			from, into := current[src.Index], current[p.interval.Dest]
			continuing := from + "a"
			for {
				if _, taken := g.Population(continuing); !taken {
					break
				}
				continuing += "a"
			}
			if err := g.addPopulation(Population{
				Name:         continuing,
				InitialSize:  src.Ne,
				Description:  src.Name,
				SamplingTime: p.time,
			}); err != nil {
				return nil, err
			}
			g.Events = append(g.Events, Event{
				Kind:        Admixture,
				Time:        p.time,
				Derived:     []string{from},
				Ancestral:   []string{into, continuing},
				Proportions: []float64{p.interval.Rate, 1 - p.interval.Rate},
			})
			current[src.Index] = continuing

		case MigrationRateChange:
			rate := 0.0
			if !p.end {
				from, okFrom := current[p.interval.Source]
				into, okInto := current[p.interval.Dest]
				if !okFrom || !okInto {
					return nil, simerr.Geometryf("migration %d->%d has no active populations at %v",
						p.interval.Source, p.interval.Dest, p.time)
				}
				p.pair[0], p.pair[1] = from, into
				rate = p.interval.Rate
			}
			g.Events = append(g.Events, Event{
				Kind:   MigrationRateChange,
				Time:   p.time,
				Source: p.pair[0],
				Dest:   p.pair[1],
				Rate:   rate,
			})
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func pulseRank(tree *sptree.Tree, iv admix.Interval) (int, error) {
	src, err := tree.Node(iv.Source)
	if err != nil {
		return 0, simerr.Configf("admixture source: %v", err)
	}
	dst, err := tree.Node(iv.Dest)
	if err != nil {
		return 0, simerr.Configf("admixture dest: %v", err)
	}
	if src.IsRoot() || dst.IsRoot() {
		return 0, simerr.Geometryf("admixture %d->%d involves the root", iv.Source, iv.Dest)
	}
	top := src.Parent.Height
	if dst.Parent.Height < top {
		top = dst.Parent.Height
	}
	if iv.Start >= top {
		return rankTopAdmixture, nil
	}
	return rankAdmixture, nil
}
