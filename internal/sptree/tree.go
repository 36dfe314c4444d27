// Package sptree is a minimal species tree: newick parsing, node heights in
// generations, per-node effective population sizes and MRCA lookups.
package sptree

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrMissingNe    = errors.New("missing Ne")
)

type Node struct {
	Index    int
	Name     string
	Dist     float64
	Height   float64
	Ne       float64
	Parent   *Node
	Children []*Node
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// Tree indexes leaves 0..n-1 in newick order and internal nodes in
// post-order after the leaves, so the root always has the largest index.
type Tree struct {
	root   *Node
	nodes  []*Node
	leaves int
}

// NewSingle returns a one-node tree, a single panmictic population.
func NewSingle(name string) *Tree {
	root := &Node{Name: name}
	t := &Tree{root: root}
	t.reindex()
	return t
}

func (t *Tree) Root() *Node {
	return t.root
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) NLeaves() int {
	return t.leaves
}

// Nodes returns all nodes ordered by index.
func (t *Tree) Nodes() []*Node {
	return append([]*Node(nil), t.nodes...)
}

func (t *Tree) Leaves() []*Node {
	return append([]*Node(nil), t.nodes[:t.leaves]...)
}

func (t *Tree) Node(idx int) (*Node, error) {
	if idx < 0 || idx >= len(t.nodes) {
		return nil, fmt.Errorf("%w: index %d", ErrNodeNotFound, idx)
	}
	return t.nodes[idx], nil
}

func (t *Tree) Leaf(name string) (*Node, error) {
	for _, n := range t.nodes[:t.leaves] {
		if n.Name == name {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: tip %q", ErrNodeNotFound, name)
}

// MRCA returns the most recent common ancestor of the named tips.
func (t *Tree) MRCA(names ...string) (*Node, error) {
	if len(names) == 0 {
		return nil, errors.New("mrca requires at least one tip name")
	}
	var mrca *Node
	for _, name := range names {
		leaf, err := t.Leaf(name)
		if err != nil {
			return nil, err
		}
		if mrca == nil {
			mrca = leaf
			continue
		}
		mrca = commonAncestor(mrca, leaf)
	}
	return mrca, nil
}

// IsAncestor reports whether a lies on the path from b to the root (a != b).
func (t *Tree) IsAncestor(a, b *Node) bool {
	for cur := b.Parent; cur != nil; cur = cur.Parent {
		if cur == a {
			return true
		}
	}
	return false
}

// SetNe assigns the same Ne to every node.
func (t *Tree) SetNe(ne float64) error {
	if !(ne > 0) || math.IsInf(ne, 0) {
		return fmt.Errorf("Ne must be positive: %v", ne)
	}
	for _, n := range t.nodes {
		n.Ne = ne
	}
	return nil
}

func (t *Tree) SetNodeNe(idx int, ne float64) error {
	n, err := t.Node(idx)
	if err != nil {
		return err
	}
	if !(ne > 0) || math.IsInf(ne, 0) {
		return fmt.Errorf("Ne must be positive: node %d got %v", idx, ne)
	}
	n.Ne = ne
	return nil
}

// CheckNe fails when any node lacks a positive Ne.
func (t *Tree) CheckNe() error {
	var missing []int
	for _, n := range t.nodes {
		if !(n.Ne > 0) {
			missing = append(missing, n.Index)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w on nodes %v", ErrMissingNe, missing)
	}
	return nil
}

func (t *Tree) MaxNe() float64 {
	best := 0.0
	for _, n := range t.nodes {
		best = math.Max(best, n.Ne)
	}
	return best
}

// Copy returns a deep copy with identical indices.
func (t *Tree) Copy() *Tree {
	out := &Tree{root: copyNode(t.root, nil)}
	out.reindex()
	return out
}

// LeafNames returns tip names in index order.
func (t *Tree) LeafNames() []string {
	names := make([]string, t.leaves)
	for i, n := range t.nodes[:t.leaves] {
		names[i] = n.Name
	}
	return names
}

func copyNode(n, parent *Node) *Node {
	c := &Node{Name: n.Name, Dist: n.Dist, Ne: n.Ne, Parent: parent}
	for _, child := range n.Children {
		c.Children = append(c.Children, copyNode(child, c))
	}
	return c
}

func commonAncestor(a, b *Node) *Node {
	seen := map[*Node]struct{}{}
	for cur := a; cur != nil; cur = cur.Parent {
		seen[cur] = struct{}{}
	}
	for cur := b; cur != nil; cur = cur.Parent {
		if _, ok := seen[cur]; ok {
			return cur
		}
	}
	return nil
}

func (t *Tree) reindex() {
	var leaves, internal []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			walk(c)
		}
		if n.IsLeaf() {
			leaves = append(leaves, n)
		} else {
			internal = append(internal, n)
		}
	}
	walk(t.root)

	t.leaves = len(leaves)
	t.nodes = append(leaves, internal...)
	for i, n := range t.nodes {
		n.Index = i
	}

	rootDist := make(map[*Node]float64, len(t.nodes))
	maxDist := 0.0
	var depth func(n *Node, d float64)
	depth = func(n *Node, d float64) {
		rootDist[n] = d
		if n.IsLeaf() {
			maxDist = math.Max(maxDist, d)
		}
		for _, c := range n.Children {
			depth(c, d+c.Dist)
		}
	}
	depth(t.root, 0)
	for _, n := range t.nodes {
		h := maxDist - rootDist[n]
		if math.Abs(h) < 1e-9 {
			h = 0
		}
		n.Height = h
	}
}

// Heights returns node heights ordered by index.
func (t *Tree) Heights() []float64 {
	out := make([]float64, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.Height
	}
	return out
}
