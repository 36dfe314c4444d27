// Package distance computes pairwise distances between sampled sequences.
package distance

import (
	"math"
	"strings"

	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

type Method string

const (
	Hamming Method = "hamming"
	JC      Method = "jc"
)

// ParseMethod accepts "", "hamming" or "jc" in any case.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", string(Hamming):
		return Hamming, nil
	case string(JC):
		return JC, nil
	default:
		return "", simerr.Configf("unsupported distance model %q", s)
	}
}

// Matrix is a symmetric distance matrix over sample names.
type Matrix = model.DistanceMatrix

// Pairwise compares every pair of sample rows across all loci of seqs.
// Cells missing in either sample are skipped.
func Pairwise(seqs *model.SeqArray, names []string, method Method) (Matrix, error) {
	if seqs == nil || len(seqs.Data) == 0 {
		return Matrix{}, simerr.DataStatef("no sequence data; simulate loci or snps first")
	}
	if len(names) != seqs.NSamples {
		return Matrix{}, simerr.Configf("have %d names for %d samples", len(names), seqs.NSamples)
	}
	rows := make([][]uint8, seqs.NSamples)
	for s := range rows {
		for l := 0; l < seqs.NLoci; l++ {
			rows[s] = append(rows[s], seqs.Row(l, s)...)
		}
	}
	values, err := FromRows(rows, method)
	if err != nil {
		return Matrix{}, err
	}
	return Matrix{Names: append([]string(nil), names...), Values: values}, nil
}

// FromRows computes the distance matrix of equal-length rows.
func FromRows(rows [][]uint8, method Method) ([][]float64, error) {
	if method != Hamming && method != JC {
		return nil, simerr.Configf("unsupported distance model %q", method)
	}
	n := len(rows)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := proportion(rows[i], rows[j])
			if method == JC {
				d = jukesCantor(d)
			}
			out[i][j] = d
			out[j][i] = d
		}
	}
	return out, nil
}

func proportion(a, b []uint8) float64 {
	compared, diff := 0, 0
	for k := range a {
		if a[k] == model.Missing || b[k] == model.Missing {
			continue
		}
		compared++
		if a[k] != b[k] {
			diff++
		}
	}
	if compared == 0 {
		return math.NaN()
	}
	return float64(diff) / float64(compared)
}

// jukesCantor returns +Inf once the proportion saturates at 3/4.
func jukesCantor(p float64) float64 {
	arg := 1 - 4.0/3.0*p
	if arg <= 0 {
		return math.Inf(1)
	}
	return -0.75 * math.Log(arg)
}
