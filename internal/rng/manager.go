// Package rng owns the genealogy and mutation random streams of a model.
package rng

import (
	"math/rand"
)

// MaxEngineSeed bounds seeds handed to the coalescent engine.
const MaxEngineSeed = 1 << 31

// Manager holds two streams. Without a distinct mutation seed the mutation
// stream is the genealogy stream itself. Reset restores both to the state
// they had at construction; unseeded streams are reseeded from fresh entropy.
type Manager struct {
	treeSeed *int64
	mutSeed  *int64

	trees *rand.Rand
	muts  *rand.Rand
}

func New(treeSeed, mutSeed *int64) *Manager {
	m := &Manager{treeSeed: copySeed(treeSeed), mutSeed: copySeed(mutSeed)}
	m.Reset()
	return m
}

func Seed(v int64) *int64 {
	return &v
}

func copySeed(s *int64) *int64 {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (m *Manager) Reset() {
	m.trees = rand.New(rand.NewSource(resolve(m.treeSeed)))
	if m.mutSeed == nil {
		m.muts = m.trees
		return
	}
	m.muts = rand.New(rand.NewSource(*m.mutSeed))
}

func resolve(s *int64) int64 {
	if s == nil {
		return rand.Int63()
	}
	return *s
}

func (m *Manager) Trees() *rand.Rand {
	return m.trees
}

func (m *Manager) Mutations() *rand.Rand {
	return m.muts
}

// Shared reports whether both streams are the same generator.
func (m *Manager) Shared() bool {
	return m.trees == m.muts
}

// Seeded reports whether the genealogy stream is reproducible.
func (m *Manager) Seeded() bool {
	return m.treeSeed != nil
}

// TreeSeed draws an engine seed from the genealogy stream.
func (m *Manager) TreeSeed() int64 {
	return m.trees.Int63n(MaxEngineSeed)
}

// MutationSeed draws an engine seed from the mutation stream.
func (m *Manager) MutationSeed() int64 {
	return m.muts.Int63n(MaxEngineSeed)
}

// Choice draws n indices from the weights using the mutation stream.
func (m *Manager) Choice(weights []float64, n int) []uint8 {
	return Choice(m.muts, weights, n)
}

// Choice draws n category indices with probabilities proportional to weights.
func Choice(r *rand.Rand, weights []float64, n int) []uint8 {
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	out := make([]uint8, n)
	for i := range out {
		u := r.Float64() * total
		k := 0
		for k < len(cum)-1 && u >= cum[k] {
			k++
		}
		out[i] = uint8(k)
	}
	return out
}
