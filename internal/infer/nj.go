// Package infer estimates gene trees from simulated sequence data.
package infer

import (
	"math"
	"strconv"
	"strings"

	"ipcoal/internal/distance"
	"ipcoal/internal/simerr"
)

// Inferrer builds a newick tree from aligned rows named by names.
// Implementations must be safe for concurrent use.
type Inferrer interface {
	Infer(names []string, rows [][]uint8) (string, error)
}

// NJ is neighbor joining on pairwise distances. Undefined or saturated
// distances are replaced by Cap.
type NJ struct {
	Method    distance.Method
	Cap       float64
	Precision int
}

func NewNJ() *NJ {
	return &NJ{Method: distance.JC, Cap: 5, Precision: 6}
}

type cluster struct {
	newick string
}

func (nj *NJ) Infer(names []string, rows [][]uint8) (string, error) {
	if len(names) != len(rows) {
		return "", simerr.Configf("have %d names for %d rows", len(names), len(rows))
	}
	if len(rows) == 0 {
		return "", simerr.DataStatef("no rows to infer a tree from")
	}
	d, err := distance.FromRows(rows, nj.Method)
	if err != nil {
		return "", err
	}
	for i := range d {
		for j := range d[i] {
			if i != j && (math.IsNaN(d[i][j]) || math.IsInf(d[i][j], 0)) {
				d[i][j] = nj.Cap
			}
		}
	}

	active := make([]cluster, len(names))
	for i, n := range names {
		active[i] = cluster{newick: n}
	}
	for len(active) > 3 {
		n := len(active)
		r := make([]float64, n)
		for i := range d {
			for _, v := range d[i] {
				r[i] += v
			}
		}
		bi, bj, best := 0, 1, math.Inf(1)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				q := float64(n-2)*d[i][j] - r[i] - r[j]
				if q < best {
					bi, bj, best = i, j, q
				}
			}
		}
		li := 0.5*d[bi][bj] + (r[bi]-r[bj])/(2*float64(n-2))
		lj := d[bi][bj] - li
		joined := cluster{newick: "(" + nj.edge(active[bi], li) + "," + nj.edge(active[bj], lj) + ")"}

		var keep []int
		for k := 0; k < n; k++ {
			if k != bi && k != bj {
				keep = append(keep, k)
			}
		}
		next := make([][]float64, len(keep)+1)
		for a, ka := range keep {
			next[a] = make([]float64, len(keep)+1)
			for b, kb := range keep {
				next[a][b] = d[ka][kb]
			}
			next[a][len(keep)] = 0.5 * (d[bi][ka] + d[bj][ka] - d[bi][bj])
		}
		next[len(keep)] = make([]float64, len(keep)+1)
		for a := range keep {
			next[len(keep)][a] = next[a][len(keep)]
		}
		clusters := make([]cluster, 0, len(keep)+1)
		for _, k := range keep {
			clusters = append(clusters, active[k])
		}
		active = append(clusters, joined)
		d = next
	}

	switch len(active) {
	case 1:
		return active[0].newick + ";", nil
	case 2:
		half := d[0][1] / 2
		return "(" + nj.edge(active[0], half) + "," + nj.edge(active[1], half) + ");", nil
	}
	la := 0.5 * (d[0][1] + d[0][2] - d[1][2])
	lb := 0.5 * (d[0][1] + d[1][2] - d[0][2])
	lc := 0.5 * (d[0][2] + d[1][2] - d[0][1])
	parts := []string{nj.edge(active[0], la), nj.edge(active[1], lb), nj.edge(active[2], lc)}
	return "(" + strings.Join(parts, ",") + ");", nil
}

func (nj *NJ) edge(c cluster, length float64) string {
	if length < 0 {
		length = 0
	}
	return c.newick + ":" + strconv.FormatFloat(length, 'f', nj.Precision, 64)
}
