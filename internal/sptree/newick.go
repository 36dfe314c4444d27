package sptree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNewick = errors.New("invalid newick")

// Parse reads a newick string with branch lengths in generations. Internal
// node labels are kept as names. An empty string yields a single population.
func Parse(newick string) (*Tree, error) {
	s := strings.TrimSpace(newick)
	if s == "" {
		return NewSingle("r0"), nil
	}
	if !strings.HasSuffix(s, ";") {
		return nil, fmt.Errorf("%w: missing terminating ';'", ErrNewick)
	}
	p := &parser{src: s[:len(s)-1]}
	root, err := p.node(nil)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrNewick, p.src[p.pos:], p.pos)
	}
	root.Dist = 0
	t := &Tree{root: root}
	t.reindex()
	for _, leaf := range t.Leaves() {
		if leaf.Name == "" {
			return nil, fmt.Errorf("%w: unnamed tip %d", ErrNewick, leaf.Index)
		}
	}
	seen := map[string]struct{}{}
	for _, name := range t.LeafNames() {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tip name %q", ErrNewick, name)
		}
		seen[name] = struct{}{}
	}
	return t, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) node(parent *Node) (*Node, error) {
	n := &Node{Parent: parent}
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		for {
			child, err := p.node(n)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			p.skipSpace()
			switch p.peek() {
			case ',':
				p.pos++
				continue
			case ')':
				p.pos++
			default:
				return nil, fmt.Errorf("%w: expected ',' or ')' at offset %d", ErrNewick, p.pos)
			}
			break
		}
	}
	n.Name = p.label()
	p.skipSpace()
	if p.peek() == ':' {
		p.pos++
		start := p.pos
		for p.pos < len(p.src) && strings.IndexByte(",();", p.src[p.pos]) < 0 {
			p.pos++
		}
		raw := strings.TrimSpace(p.src[start:p.pos])
		dist, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: branch length %q: %v", ErrNewick, raw, err)
		}
		if dist < 0 {
			return nil, fmt.Errorf("%w: negative branch length %v", ErrNewick, dist)
		}
		n.Dist = dist
	}
	return n, nil
}

func (p *parser) label() string {
	p.skipSpace()
	if p.peek() == '\'' {
		end := strings.IndexByte(p.src[p.pos+1:], '\'')
		if end >= 0 {
			name := p.src[p.pos+1 : p.pos+1+end]
			p.pos += end + 2
			return name
		}
	}
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte(":,();", p.src[p.pos]) < 0 {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\n' || p.src[p.pos] == '\t') {
		p.pos++
	}
}
