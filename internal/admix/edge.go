// Package admix describes admixture edges between species-tree branches and
// resolves them to absolute-time intervals in generations.
package admix

import (
	"fmt"
	"math"
	"strings"

	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

type TimeKind int

const (
	Unspecified TimeKind = iota
	ProportionPulse
	HeightPulse
	ProportionInterval
	HeightInterval
)

func (k TimeKind) String() string {
	switch k {
	case Unspecified:
		return "unspecified"
	case ProportionPulse:
		return "proportion-pulse"
	case HeightPulse:
		return "height-pulse"
	case ProportionInterval:
		return "proportion-interval"
	case HeightInterval:
		return "height-interval"
	default:
		return fmt.Sprintf("time-kind(%d)", int(k))
	}
}

// DefaultProportions is the shared-interval window used when no time is given.
var DefaultProportions = [2]float64{0.25, 0.75}

// TimeSpec places an admixture edge in time. The zero value is Unspecified.
type TimeSpec struct {
	Kind   TimeKind
	Values [2]float64
}

func AtProportion(p float64) TimeSpec {
	return TimeSpec{Kind: ProportionPulse, Values: [2]float64{p, p}}
}

func AtHeight(h float64) TimeSpec {
	return TimeSpec{Kind: HeightPulse, Values: [2]float64{h, h}}
}

func OverProportions(p0, p1 float64) TimeSpec {
	return TimeSpec{Kind: ProportionInterval, Values: [2]float64{p0, p1}}
}

func OverHeights(h0, h1 float64) TimeSpec {
	return TimeSpec{Kind: HeightInterval, Values: [2]float64{h0, h1}}
}

func (s TimeSpec) proportions() ([2]float64, bool) {
	switch s.Kind {
	case Unspecified:
		return DefaultProportions, true
	case ProportionPulse, ProportionInterval:
		return s.Values, true
	}
	return [2]float64{}, false
}

func (s TimeSpec) heights() ([2]float64, bool) {
	switch s.Kind {
	case HeightPulse, HeightInterval:
		return s.Values, true
	}
	return [2]float64{}, false
}

func (s TimeSpec) isInterval() bool {
	return s.Kind == Unspecified || s.Kind == ProportionInterval || s.Kind == HeightInterval
}

// NodeRef names a tree node either by index or by the tips whose MRCA it is.
type NodeRef struct {
	index  int
	labels []string
}

func ByIndex(idx int) NodeRef {
	return NodeRef{index: idx}
}

func ByLabels(labels ...string) NodeRef {
	return NodeRef{labels: append([]string(nil), labels...)}
}

func (r NodeRef) Resolve(tree *sptree.Tree) (*sptree.Node, error) {
	if len(r.labels) > 0 {
		n, err := tree.MRCA(r.labels...)
		if err != nil {
			return nil, simerr.Configf("admixture node %v: %v", r.labels, err)
		}
		return n, nil
	}
	n, err := tree.Node(r.index)
	if err != nil {
		return nil, simerr.Configf("admixture node: %v", err)
	}
	return n, nil
}

func (r NodeRef) String() string {
	if len(r.labels) > 0 {
		return strings.Join(r.labels, ",")
	}
	return fmt.Sprintf("%d", r.index)
}

// Edge sends migrants from Source into Dest backward in time. Rate is a
// pulse proportion for point-time edges and a per-generation migration rate
// for intervals.
type Edge struct {
	Source NodeRef
	Dest   NodeRef
	Time   TimeSpec
	Rate   float64
}

// Validate checks the edge shape without touching tree geometry.
func (e Edge) Validate() error {
	if math.IsNaN(e.Rate) || e.Rate < 0 {
		return simerr.Configf("admixture %s->%s: rate must be >= 0, got %v", e.Source, e.Dest, e.Rate)
	}
	switch e.Time.Kind {
	case Unspecified:
	case ProportionPulse, ProportionInterval:
		for _, p := range e.Time.Values {
			if math.IsNaN(p) || p < 0 || p > 1 {
				return simerr.Configf("admixture %s->%s: proportion %v outside [0,1]", e.Source, e.Dest, p)
			}
		}
	case HeightPulse, HeightInterval:
		for _, h := range e.Time.Values {
			if math.IsNaN(h) || h < 0 {
				return simerr.Configf("admixture %s->%s: height %v must be >= 0", e.Source, e.Dest, h)
			}
		}
	default:
		return simerr.Configf("admixture %s->%s: unknown time kind %s", e.Source, e.Dest, e.Time.Kind)
	}
	if e.Time.Values[0] > e.Time.Values[1] {
		return simerr.Configf("admixture %s->%s: time interval %v is reversed", e.Source, e.Dest, e.Time.Values)
	}
	if !e.Time.isInterval() && e.Rate > 1 {
		return simerr.Configf("admixture %s->%s: pulse proportion %v exceeds 1", e.Source, e.Dest, e.Rate)
	}
	return nil
}
