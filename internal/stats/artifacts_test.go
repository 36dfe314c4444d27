package stats

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ipcoal/internal/distance"
	"ipcoal/internal/infer"
	"ipcoal/internal/model"
)

func sampleTable() []model.Record {
	return []model.Record{
		{Locus: 0, Start: 0, End: 40, Length: 40, SNPs: 2, TreeIndex: 0, Genealogy: "(A:1,B:1);"},
		{Locus: 0, Start: 40, End: 100, Length: 60, SNPs: 1, TreeIndex: 1, Genealogy: "(A:2,B:2);"},
		{Locus: 1, Start: 0, End: 100, Length: 100, SNPs: 0, TreeIndex: 0, Genealogy: "(A:3,B:3);", InferredTree: ""},
	}
}

func sampleRun(id string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1},
		ID:              id,
		Mode:            "loci",
		CreatedAt:       time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
		Summary:         model.RunSummary{NLoci: 2, NSamples: 2, NSites: 100, Genealogies: 3, SNPs: 3},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Run:   sampleRun(runID),
		Table: sampleTable(),
	}
	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{runFile, tableFile, summaryFile} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, distancesFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no distances file without a matrix, got %v", err)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range []string{runFile, tableFile, summaryFile} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	artifacts.Distances = &distance.Matrix{Names: []string{"A", "B"}, Values: [][]float64{{0, 0.1}, {0.1, 0}}}
	artifacts.Windows = []infer.Window{{Locus: 0, Start: 0, End: 50, Length: 50, SNPs: 2, InferredTree: "(A:1,B:1);"}}
	if _, err := WriteRunArtifacts(baseDir, artifacts); err != nil {
		t.Fatalf("rewrite artifacts: %v", err)
	}
	exportedDir, err = ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts with extras: %v", err)
	}
	for _, file := range []string{distancesFile, windowsFile} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	run, ok, err := ReadRunRecord(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read run record: ok=%t err=%v", ok, err)
	}
	if run.Summary.Genealogies != 3 {
		t.Fatalf("unexpected run record: %+v", run)
	}
	table, ok, err := ReadTable(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read table: ok=%t err=%v", ok, err)
	}
	if len(table) != 3 || table[1].Genealogy != "(A:2,B:2);" || table[1].Start != 40 {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
	if _, err := ExportRunArtifacts(t.TempDir(), "missing", t.TempDir()); err == nil {
		t.Fatal("expected error exporting unknown run")
	}
	if _, ok, err := ReadRunRecord(t.TempDir(), "missing"); ok || err != nil {
		t.Fatalf("expected absent run record, ok=%t err=%v", ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	first := IndexEntry(sampleRun("run-1"))
	second := IndexEntry(sampleRun("run-2"))
	second.CreatedAtUTC = "2026-02-10T11:00:00Z"
	if err := AppendRunIndex(baseDir, first); err != nil {
		t.Fatalf("append run-1: %v", err)
	}
	if err := AppendRunIndex(baseDir, second); err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "run-2" {
		t.Fatalf("expected newest first, got %+v", entries)
	}

	first.SNPs = 99
	if err := AppendRunIndex(baseDir, first); err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}
	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list run index after upsert: %v", err)
	}
	if len(entries) != 2 || entries[1].SNPs != 99 {
		t.Fatalf("expected upserted entry, got %+v", entries)
	}

	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestTableCSVRoundTripKeepsNewickCommas(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTableCSV(&buf, sampleTable()); err != nil {
		t.Fatalf("write table: %v", err)
	}
	table, err := ReadTableCSV(&buf)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if len(table) != 3 || table[0].Genealogy != "(A:1,B:1);" || table[0].SNPs != 2 {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(sampleTable())
	if summary.Loci != 2 || summary.Genealogies != 3 || summary.SNPs != 3 || summary.VariableLoci != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.TreesPerLocusMean != 1.5 || summary.TreesPerLocusStd != 0.5 {
		t.Fatalf("unexpected tree counts: %+v", summary)
	}
	if summary.SNPsPerLocusMax != 3 || math.Abs(summary.SNPsPerLocusMean-1.5) > 1e-12 {
		t.Fatalf("unexpected snp counts: %+v", summary)
	}
	if empty := Summarize(nil); empty.Loci != 0 || empty.TreesPerLocusMean != 0 {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}
}
