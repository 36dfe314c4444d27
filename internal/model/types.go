package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Missing marks a masked cell in a sequence array.
const Missing uint8 = 9

// Record is one genealogy interval of a simulated locus or SNP.
type Record struct {
	Locus        int    `json:"locus"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Length       int    `json:"nbps"`
	SNPs         int    `json:"nsnps"`
	TreeIndex    int    `json:"tidx"`
	Genealogy    string `json:"genealogy"`
	InferredTree string `json:"inferred_tree,omitempty"`
}

type Shape string

const (
	ShapeLoci Shape = "loci"
	ShapeSNPs Shape = "snps"
)

// SeqArray holds allele-index codes laid out as [locus][sample][site]. SNP
// shaped arrays use a single locus whose sites are the unlinked SNPs.
type SeqArray struct {
	Shape    Shape   `json:"shape"`
	NLoci    int     `json:"nloci"`
	NSamples int     `json:"nsamples"`
	NSites   int     `json:"nsites"`
	Data     []uint8 `json:"data"`
}

func NewSeqArray(shape Shape, nloci, nsamples, nsites int) *SeqArray {
	return &SeqArray{
		Shape:    shape,
		NLoci:    nloci,
		NSamples: nsamples,
		NSites:   nsites,
		Data:     make([]uint8, nloci*nsamples*nsites),
	}
}

func (a *SeqArray) Offset(locus, sample, site int) int {
	return (locus*a.NSamples+sample)*a.NSites + site
}

func (a *SeqArray) At(locus, sample, site int) uint8 {
	return a.Data[a.Offset(locus, sample, site)]
}

func (a *SeqArray) Set(locus, sample, site int, v uint8) {
	a.Data[a.Offset(locus, sample, site)] = v
}

// Row returns the sites of one sample at one locus, sharing storage.
func (a *SeqArray) Row(locus, sample int) []uint8 {
	off := a.Offset(locus, sample, 0)
	return a.Data[off : off+a.NSites]
}

// Locus returns a copy of one locus as a [sample][site] matrix.
func (a *SeqArray) Locus(locus int) [][]uint8 {
	out := make([][]uint8, a.NSamples)
	for s := range out {
		out[s] = append([]uint8(nil), a.Row(locus, s)...)
	}
	return out
}

func (a *SeqArray) HasMissing() bool {
	for _, v := range a.Data {
		if v == Missing {
			return true
		}
	}
	return false
}

func (a *SeqArray) Clone() *SeqArray {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]uint8(nil), a.Data...)
	return &c
}

// Permute reorders sample rows so that new row k is old row order[k].
func (a *SeqArray) Permute(order []int) {
	data := make([]uint8, len(a.Data))
	for l := 0; l < a.NLoci; l++ {
		for k, old := range order {
			copy(data[a.Offset(l, k, 0):a.Offset(l, k, 0)+a.NSites], a.Row(l, old))
		}
	}
	a.Data = data
}

// RunRecord describes one persisted simulation run.
type RunRecord struct {
	VersionedRecord
	ID        string         `json:"id"`
	Mode      string         `json:"mode"`
	CreatedAt time.Time      `json:"created_at"`
	Seed      *int64         `json:"seed,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Summary   RunSummary     `json:"summary"`
}

type RunSummary struct {
	NLoci        int     `json:"nloci"`
	NSamples     int     `json:"nsamples"`
	NSites       int     `json:"nsites"`
	Genealogies  int     `json:"genealogies"`
	SNPs         int     `json:"snps"`
	MissingCells int     `json:"missing_cells"`
	Neff         float64 `json:"neff"`
	Seconds      float64 `json:"seconds"`
}

// RunResults is the table and arrays produced by a run.
type RunResults struct {
	VersionedRecord
	RunID     string    `json:"run_id"`
	Names     []string  `json:"names"`
	Records   []Record  `json:"records"`
	Seqs      *SeqArray       `json:"seqs,omitempty"`
	Ancestral []uint8         `json:"ancestral,omitempty"`
	Distances *DistanceMatrix `json:"distances,omitempty"`
	Windows   []Window        `json:"windows,omitempty"`
}

// Window is one non-overlapping slice of a locus.
type Window struct {
	Locus        int    `json:"locus"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Length       int    `json:"nbps"`
	SNPs         int    `json:"nsnps"`
	InferredTree string `json:"inferred_tree,omitempty"`
}

// DistanceMatrix is a symmetric distance matrix over Names. Undefined and
// saturated entries are NaN and +Inf, written to JSON as "NaN" and "+Inf".
type DistanceMatrix struct {
	Names  []string    `json:"names"`
	Values [][]float64 `json:"values"`
}

func (m DistanceMatrix) Get(a, b string) (float64, bool) {
	i, j := -1, -1
	for k, n := range m.Names {
		if n == a {
			i = k
		}
		if n == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.Values[i][j], true
}

func (m *DistanceMatrix) Clone() *DistanceMatrix {
	if m == nil {
		return nil
	}
	out := &DistanceMatrix{Names: append([]string(nil), m.Names...)}
	for _, row := range m.Values {
		out.Values = append(out.Values, append([]float64(nil), row...))
	}
	return out
}

type distanceJSON struct {
	Names  []string      `json:"names"`
	Values [][]jsonFloat `json:"values"`
}

func (m DistanceMatrix) MarshalJSON() ([]byte, error) {
	out := distanceJSON{Names: m.Names, Values: make([][]jsonFloat, len(m.Values))}
	for i, row := range m.Values {
		out.Values[i] = make([]jsonFloat, len(row))
		for j, v := range row {
			out.Values[i][j] = jsonFloat(v)
		}
	}
	return json.Marshal(out)
}

func (m *DistanceMatrix) UnmarshalJSON(data []byte) error {
	var in distanceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Names = in.Names
	m.Values = make([][]float64, len(in.Values))
	for i, row := range in.Values {
		m.Values[i] = make([]float64, len(row))
		for j, v := range row {
			m.Values[i][j] = float64(v)
		}
	}
	return nil
}

// jsonFloat writes non-finite values as quoted strings.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))), nil
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = jsonFloat(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}
