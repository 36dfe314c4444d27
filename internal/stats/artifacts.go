package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ipcoal/internal/distance"
	"ipcoal/internal/infer"
	"ipcoal/internal/model"
)

const (
	runIndexFile  = "run_index.json"
	runFile       = "run.json"
	tableFile     = "table.csv"
	summaryFile   = "summary.json"
	distancesFile = "distances.json"
	windowsFile   = "windows.json"
)

var tableHeader = []string{"locus", "start", "end", "nbps", "nsnps", "tidx", "genealogy", "inferred_tree"}

type RunArtifacts struct {
	Run       model.RunRecord  `json:"run"`
	Table     []model.Record   `json:"table"`
	Distances *distance.Matrix `json:"distances,omitempty"`
	Windows   []infer.Window   `json:"windows,omitempty"`
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Mode         string `json:"mode"`
	NLoci        int    `json:"nloci"`
	NSamples     int    `json:"nsamples"`
	NSites       int    `json:"nsites"`
	Genealogies  int    `json:"genealogies"`
	SNPs         int    `json:"snps"`
	Seed         *int64 `json:"seed,omitempty"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func IndexEntry(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		Mode:         run.Mode,
		NLoci:        run.Summary.NLoci,
		NSamples:     run.Summary.NSamples,
		NSites:       run.Summary.NSites,
		Genealogies:  run.Summary.Genealogies,
		SNPs:         run.Summary.SNPs,
		Seed:         run.Seed,
		CreatedAtUTC: run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// WriteRunArtifacts writes one directory per run under baseDir and returns it.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, runFile), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeTableFile(filepath.Join(runDir, tableFile), artifacts.Table); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), Summarize(artifacts.Table)); err != nil {
		return "", err
	}
	if artifacts.Distances != nil {
		if err := writeJSON(filepath.Join(runDir, distancesFile), artifacts.Distances); err != nil {
			return "", err
		}
	}
	if len(artifacts.Windows) > 0 {
		if err := writeJSON(filepath.Join(runDir, windowsFile), artifacts.Windows); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{runFile, tableFile, summaryFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{distancesFile, windowsFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

func ReadTable(baseDir, runID string) ([]model.Record, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, tableFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	table, err := ReadTableCSV(file)
	if err != nil {
		return nil, false, err
	}
	return table, true, nil
}

// WriteTableCSV writes the result table with a header row.
func WriteTableCSV(w io.Writer, table []model.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tableHeader); err != nil {
		return err
	}
	for _, rec := range table {
		if err := writer.Write([]string{
			strconv.Itoa(rec.Locus),
			strconv.Itoa(rec.Start),
			strconv.Itoa(rec.End),
			strconv.Itoa(rec.Length),
			strconv.Itoa(rec.SNPs),
			strconv.Itoa(rec.TreeIndex),
			rec.Genealogy,
			rec.InferredTree,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadTableCSV(r io.Reader) ([]model.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(tableHeader)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []model.Record{}, nil
		}
		return nil, err
	}

	table := make([]model.Record, 0, 64)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var ints [6]int
		for i := range ints {
			if ints[i], err = strconv.Atoi(row[i]); err != nil {
				return nil, fmt.Errorf("table column %s: %w", tableHeader[i], err)
			}
		}
		table = append(table, model.Record{
			Locus:        ints[0],
			Start:        ints[1],
			End:          ints[2],
			Length:       ints[3],
			SNPs:         ints[4],
			TreeIndex:    ints[5],
			Genealogy:    row[6],
			InferredTree: row[7],
		})
	}
	return table, nil
}

func writeTableFile(path string, table []model.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTableCSV(file, table)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
