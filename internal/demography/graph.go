// Package demography compiles a species tree and resolved admixture
// intervals into a time-ordered list of population events.
package demography

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"ipcoal/internal/simerr"
)

type EventKind int

const (
	Split EventKind = iota
	Admixture
	MigrationRateChange
)

func (k EventKind) String() string {
	switch k {
	case Admixture:
		return "admixture"
	case Split:
		return "split"
	case MigrationRateChange:
		return "migration_rate_change"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Population struct {
	Name            string  `json:"name"`
	InitialSize     float64 `json:"initial_size"`
	Description     string  `json:"description,omitempty"`
	SamplingTime    float64 `json:"sampling_time"`
	InitiallyActive bool    `json:"initially_active"`
}

// Event is applied backward in time. Split moves every lineage in Derived
// into Ancestral[0]. Admixture moves each lineage in Derived[0] into
// Ancestral[i] with probability Proportions[i]. MigrationRateChange sets the
// backward rate at which lineages in Source move to Dest.
type Event struct {
	Kind        EventKind `json:"kind"`
	Time        float64   `json:"time"`
	Derived     []string  `json:"derived,omitempty"`
	Ancestral   []string  `json:"ancestral,omitempty"`
	Proportions []float64 `json:"proportions,omitempty"`
	Source      string    `json:"source,omitempty"`
	Dest        string    `json:"dest,omitempty"`
	Rate        float64   `json:"rate,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case Split:
		return fmt.Sprintf("split %s -> %s", strings.Join(e.Derived, ","), e.Ancestral[0])
	case Admixture:
		return fmt.Sprintf("admixture %s -> %s with %v", e.Derived[0], strings.Join(e.Ancestral, ","), e.Proportions)
	case MigrationRateChange:
		return fmt.Sprintf("migration %s -> %s rate=%g", e.Source, e.Dest, e.Rate)
	default:
		return e.Kind.String()
	}
}

// Graph is the compiled demographic model handed to the coalescent engine.
type Graph struct {
	Populations []Population `json:"populations"`
	Events      []Event      `json:"events"`

	index map[string]int
}

func (g *Graph) Population(name string) (Population, bool) {
	idx, ok := g.lookup()[name]
	if !ok {
		return Population{}, false
	}
	return g.Populations[idx], true
}

// PopulationIndex returns the declaration order of a population.
func (g *Graph) PopulationIndex(name string) (int, bool) {
	idx, ok := g.lookup()[name]
	return idx, ok
}

func (g *Graph) Names() []string {
	names := make([]string, len(g.Populations))
	for i, p := range g.Populations {
		names[i] = p.Name
	}
	return names
}

func (g *Graph) lookup() map[string]int {
	if g.index == nil || len(g.index) != len(g.Populations) {
		g.index = make(map[string]int, len(g.Populations))
		for i, p := range g.Populations {
			g.index[p.Name] = i
		}
	}
	return g.index
}

func (g *Graph) addPopulation(p Population) error {
	if _, exists := g.lookup()[p.Name]; exists {
		return simerr.Configf("duplicate population name %q", p.Name)
	}
	if !(p.InitialSize > 0) {
		return simerr.Configf("population %q needs a positive size, got %v", p.Name, p.InitialSize)
	}
	g.Populations = append(g.Populations, p)
	g.index[p.Name] = len(g.Populations) - 1
	return nil
}

// Validate checks declaration order, event ordering and that exactly one
// population is never absorbed into an ancestor.
func (g *Graph) Validate() error {
	names := g.lookup()
	if len(names) != len(g.Populations) {
		return simerr.Configf("population names are not unique")
	}
	absorbed := make(map[string]bool, len(g.Populations))
	for i, e := range g.Events {
		if i > 0 && e.Time < g.Events[i-1].Time {
			return simerr.Configf("event %d (%s at %v) is out of order", i, e.Kind, e.Time)
		}
		if i > 0 && e.Time == g.Events[i-1].Time && g.Events[i-1].Kind == MigrationRateChange && e.Kind != MigrationRateChange {
			return simerr.Configf("event %d (%s at %v) follows a migration rate change at the same time", i, e.Kind, e.Time)
		}
		refs := append(append([]string(nil), e.Derived...), e.Ancestral...)
		if e.Kind == MigrationRateChange {
			refs = []string{e.Source, e.Dest}
		}
		for _, name := range refs {
			if _, ok := names[name]; !ok {
				return simerr.Configf("event %d (%s) references undeclared population %q", i, e.Kind, name)
			}
		}
		if e.Kind != MigrationRateChange {
			for _, name := range e.Derived {
				absorbed[name] = true
			}
		}
	}
	var roots []string
	for _, p := range g.Populations {
		if !absorbed[p.Name] {
			roots = append(roots, p.Name)
		}
	}
	if len(roots) != 1 {
		return simerr.Configf("expected a single root population, found %v", roots)
	}
	return nil
}

// Debug renders the populations and events as aligned text tables.
func (g *Graph) Debug() string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "population\tsize\tsampling_time\tactive\tdescription")
	for _, p := range g.Populations {
		fmt.Fprintf(w, "%s\t%g\t%g\t%t\t%s\n", p.Name, p.InitialSize, p.SamplingTime, p.InitiallyActive, p.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "time\tevent")
	for _, e := range g.Events {
		fmt.Fprintf(w, "%g\t%s\n", e.Time, e)
	}
	_ = w.Flush()
	return buf.String()
}
