// Package subst registers finite-site substitution models by name.
package subst

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrModelExists   = errors.New("substitution model already registered")
	ErrModelNotFound = errors.New("substitution model not found")
	ErrInvalidModel  = errors.New("invalid substitution model")
)

// Model is a Markov model over a fixed allele alphabet. Transition[i][j] is
// the probability that a mutation on allele i produces allele j.
type Model struct {
	Name             string
	Alleles          []string
	RootDistribution []float64
	Transition       [][]float64
}

func (m Model) AlleleIndex(allele string) (int, bool) {
	for i, a := range m.Alleles {
		if a == allele {
			return i, true
		}
	}
	return -1, false
}

func (m Model) Validate() error {
	k := len(m.Alleles)
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidModel)
	}
	if k < 2 {
		return fmt.Errorf("%w: %s needs at least two alleles", ErrInvalidModel, m.Name)
	}
	if len(m.RootDistribution) != k || len(m.Transition) != k {
		return fmt.Errorf("%w: %s dimensions do not match %d alleles", ErrInvalidModel, m.Name, k)
	}
	if !sumsToOne(m.RootDistribution) {
		return fmt.Errorf("%w: %s root distribution does not sum to 1", ErrInvalidModel, m.Name)
	}
	for i, row := range m.Transition {
		if len(row) != k || !sumsToOne(row) {
			return fmt.Errorf("%w: %s transition row %d", ErrInvalidModel, m.Name, i)
		}
	}
	return nil
}

func sumsToOne(p []float64) bool {
	total := 0.0
	for _, v := range p {
		if v < 0 {
			return false
		}
		total += v
	}
	return math.Abs(total-1) < 1e-9
}

var modelRegistry = struct {
	mu sync.RWMutex
	m  map[string]Model
}{
	m: make(map[string]Model),
}

func init() {
	for _, m := range []Model{JC69(), Binary()} {
		if err := Register(m); err != nil {
			panic(err)
		}
	}
}

func Register(m Model) error {
	if err := m.Validate(); err != nil {
		return err
	}

	modelRegistry.mu.Lock()
	defer modelRegistry.mu.Unlock()

	if _, exists := modelRegistry.m[m.Name]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, m.Name)
	}
	modelRegistry.m[m.Name] = m
	return nil
}

func Resolve(name string) (Model, error) {
	modelRegistry.mu.RLock()
	m, ok := modelRegistry.m[name]
	modelRegistry.mu.RUnlock()

	if !ok {
		return Model{}, fmt.Errorf("%w: %s (known: %v)", ErrModelNotFound, name, List())
	}
	return m, nil
}

func List() []string {
	modelRegistry.mu.RLock()
	defer modelRegistry.mu.RUnlock()

	names := make([]string, 0, len(modelRegistry.m))
	for name := range modelRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JC69 mutates to each of the three other nucleotides with equal probability.
func JC69() Model {
	alleles := []string{"A", "C", "G", "T"}
	transition := make([][]float64, 4)
	for i := range transition {
		transition[i] = make([]float64, 4)
		for j := range transition[i] {
			if i != j {
				transition[i][j] = 1.0 / 3.0
			}
		}
	}
	return Model{
		Name:             "JC69",
		Alleles:          alleles,
		RootDistribution: []float64{0.25, 0.25, 0.25, 0.25},
		Transition:       transition,
	}
}

func Binary() Model {
	return Model{
		Name:             "binary",
		Alleles:          []string{"0", "1"},
		RootDistribution: []float64{1, 0},
		Transition:       [][]float64{{0, 1}, {1, 0}},
	}
}
