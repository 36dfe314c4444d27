package infer

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ipcoal/internal/model"
	"ipcoal/internal/simerr"
)

// Source is the simulated data gene trees are inferred from.
type Source interface {
	Table() []model.Record
	Seqs() *model.SeqArray
	Names() []string
}

// Window is one non-overlapping slice of a locus.
type Window = model.Window

func locusData(src Source) (*model.SeqArray, error) {
	seqs := src.Seqs()
	if seqs == nil || len(seqs.Data) == 0 {
		return nil, simerr.DataStatef("no sequence data; simulate loci before inferring gene trees")
	}
	if seqs.Shape == model.ShapeSNPs {
		return nil, simerr.DataStatef("gene trees cannot be inferred from unlinked snps")
	}
	return seqs, nil
}

// GeneTrees infers one tree per locus and returns one tree per table record.
// Loci without SNPs are skipped and get an empty tree.
func GeneTrees(ctx context.Context, src Source, inf Inferrer) ([]string, error) {
	seqs, err := locusData(src)
	if err != nil {
		return nil, err
	}
	table := src.Table()
	variable := make([]bool, seqs.NLoci)
	for _, rec := range table {
		if rec.SNPs > 0 {
			variable[rec.Locus] = true
		}
	}

	names := src.Names()
	perLocus := make([]string, seqs.NLoci)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for l := 0; l < seqs.NLoci; l++ {
		if !variable[l] {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tree, err := inf.Infer(names, seqs.Locus(l))
			if err != nil {
				return err
			}
			perLocus[l] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, len(table))
	for i, rec := range table {
		out[i] = perLocus[rec.Locus]
	}
	return out, nil
}

// Windows slices every locus into windows of size sites and infers a tree
// per window. A size of 0 uses whole loci.
func Windows(ctx context.Context, src Source, size int, inf Inferrer) ([]Window, error) {
	seqs, err := locusData(src)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, simerr.Configf("window size must be >= 0, got %d", size)
	}
	if size == 0 || size > seqs.NSites {
		size = seqs.NSites
	}

	var windows []Window
	for l := 0; l < seqs.NLoci; l++ {
		for start := 0; start < seqs.NSites; start += size {
			end := min(start+size, seqs.NSites)
			windows = append(windows, Window{Locus: l, Start: start, End: end, Length: end - start})
		}
	}

	names := src.Names()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w := &windows[i]
			rows := make([][]uint8, seqs.NSamples)
			for s := range rows {
				rows[s] = seqs.Row(w.Locus, s)[w.Start:w.End]
			}
			w.SNPs = variableColumns(rows)
			tree, err := inf.Infer(names, rows)
			if err != nil {
				return err
			}
			w.InferredTree = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return windows, nil
}

func variableColumns(rows [][]uint8) int {
	if len(rows) == 0 {
		return 0
	}
	n := 0
	for k := range rows[0] {
		for _, row := range rows[1:] {
			if row[k] != rows[0][k] {
				n++
				break
			}
		}
	}
	return n
}
