package stats

import (
	"math"

	"ipcoal/internal/model"
)

// TableSummary aggregates a result table per locus.
type TableSummary struct {
	Loci              int     `json:"loci"`
	Genealogies       int     `json:"genealogies"`
	SNPs              int     `json:"snps"`
	VariableLoci      int     `json:"variable_loci"`
	TreesPerLocusMean float64 `json:"trees_per_locus_mean"`
	TreesPerLocusStd  float64 `json:"trees_per_locus_std"`
	SNPsPerLocusMean  float64 `json:"snps_per_locus_mean"`
	SNPsPerLocusStd   float64 `json:"snps_per_locus_std"`
	SNPsPerLocusMax   float64 `json:"snps_per_locus_max"`
}

func Summarize(table []model.Record) TableSummary {
	trees := map[int]float64{}
	snps := map[int]float64{}
	var order []int
	for _, rec := range table {
		if _, ok := trees[rec.Locus]; !ok {
			order = append(order, rec.Locus)
		}
		trees[rec.Locus]++
		snps[rec.Locus] += float64(rec.SNPs)
	}

	treeCounts := make([]float64, 0, len(order))
	snpCounts := make([]float64, 0, len(order))
	summary := TableSummary{Loci: len(order), Genealogies: len(table)}
	for _, locus := range order {
		treeCounts = append(treeCounts, trees[locus])
		snpCounts = append(snpCounts, snps[locus])
		summary.SNPs += int(snps[locus])
		if snps[locus] > 0 {
			summary.VariableLoci++
		}
	}
	summary.TreesPerLocusMean, summary.TreesPerLocusStd = avgStd(treeCounts)
	summary.SNPsPerLocusMean, summary.SNPsPerLocusStd = avgStd(snpCounts)
	summary.SNPsPerLocusMax = maxOrZero(snpCounts)
	return summary
}

// avgStd returns the mean and population standard deviation.
func avgStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	ss := 0.0
	for _, v := range values {
		ss += (v - avg) * (v - avg)
	}
	return avg, math.Sqrt(ss / float64(len(values)))
}

func maxOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, value := range values[1:] {
		if value > max {
			max = value
		}
	}
	return max
}
