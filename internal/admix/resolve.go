package admix

import (
	"math"

	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

const heightTolerance = 1e-9

// Interval is a resolved admixture edge in absolute generations.
type Interval struct {
	Source int
	Dest   int
	Start  float64
	End    float64
	Rate   float64
}

func (iv Interval) IsPulse() bool {
	return iv.Start == iv.End
}

// Shared returns the time span over which the edges above src and dst coexist.
func Shared(tree *sptree.Tree, src, dst *sptree.Node) (float64, float64, error) {
	if src == dst {
		return 0, 0, simerr.Geometryf("admixture source and dest are the same node %d", src.Index)
	}
	if src.IsRoot() || dst.IsRoot() {
		return 0, 0, simerr.Geometryf("admixture %d->%d: the root has no edge to share", src.Index, dst.Index)
	}
	if tree.IsAncestor(src, dst) || tree.IsAncestor(dst, src) {
		return 0, 0, simerr.Geometryf("admixture %d->%d: nodes lie on the same lineage", src.Index, dst.Index)
	}
	start := math.Max(src.Height, dst.Height)
	end := math.Min(src.Parent.Height, dst.Parent.Height)
	if !(end > start) {
		return 0, 0, simerr.Geometryf("admixture %d->%d: edges share no interval ([%v,%v] vs [%v,%v])",
			src.Index, dst.Index, src.Height, src.Parent.Height, dst.Height, dst.Parent.Height)
	}
	return start, end, nil
}

// Resolve converts an edge into an absolute interval. Proportions are taken
// from the recent end of the shared interval.
func Resolve(tree *sptree.Tree, edge Edge) (Interval, error) {
	if err := edge.Validate(); err != nil {
		return Interval{}, err
	}
	src, err := edge.Source.Resolve(tree)
	if err != nil {
		return Interval{}, err
	}
	dst, err := edge.Dest.Resolve(tree)
	if err != nil {
		return Interval{}, err
	}
	start, end, err := Shared(tree, src, dst)
	if err != nil {
		return Interval{}, err
	}

	iv := Interval{Source: src.Index, Dest: dst.Index, Rate: edge.Rate}
	if props, ok := edge.Time.proportions(); ok {
		iv.Start = start + props[0]*(end-start)
		iv.End = start + props[1]*(end-start)
		return iv, nil
	}
	heights, ok := edge.Time.heights()
	if !ok {
		return Interval{}, simerr.Configf("admixture %s->%s: time spec %s yields neither proportions nor heights",
			edge.Source, edge.Dest, edge.Time.Kind)
	}
	for _, h := range heights {
		if h < start-heightTolerance || h > end+heightTolerance {
			return Interval{}, simerr.Geometryf("admixture %d->%d: height %v outside shared interval [%v,%v]",
				src.Index, dst.Index, h, start, end)
		}
	}
	iv.Start, iv.End = heights[0], heights[1]
	return iv, nil
}

// ResolveAll validates every edge before resolving any of them.
func ResolveAll(tree *sptree.Tree, edges []Edge) ([]Interval, error) {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	out := make([]Interval, 0, len(edges))
	for _, e := range edges {
		iv, err := Resolve(tree, e)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
