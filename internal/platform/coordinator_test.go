package platform

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ipcoal/internal/config"
	"ipcoal/internal/model"
	"ipcoal/internal/stats"
	"ipcoal/internal/storage"
)

func coverage(v float64) *float64 {
	return &v
}

func testConfig() config.RunConfig {
	seed := int64(11)
	cfg := config.Default()
	cfg.Tree = "((A:500,B:500):500,C:1000);"
	cfg.Ne = 1000
	cfg.NSamples = 2
	cfg.MutationRate = 1e-4
	cfg.RecombinationRate = 1e-6
	cfg.Seed = &seed
	cfg.NLoci = 3
	cfg.NSites = 120
	cfg.Workers = 2
	return cfg
}

func startedCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(Config{
		Store: storage.NewMemoryStore(),
		Now:   func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestRunRequiresInit(t *testing.T) {
	c := NewCoordinator(Config{Store: storage.NewMemoryStore()})
	if _, err := c.Run(context.Background(), testConfig()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := NewCoordinator(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestRunLociPersistsAndWritesArtifacts(t *testing.T) {
	ctx := context.Background()
	c := startedCoordinator(t)

	cfg := testConfig()
	cfg.RunID = "run-loci"
	cfg.OutputDir = t.TempDir()
	cfg.Missing = &config.MissingConfig{Coverage: coverage(0.9), CoverageType: "site"}
	cfg.Distance = "jc"
	cfg.Infer = config.InferConfig{Mode: "loci"}

	result, err := c.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Run.ID != "run-loci" || result.Run.Summary.NLoci != 3 || result.Run.Summary.NSamples != 6 {
		t.Fatalf("unexpected run record: %+v", result.Run)
	}
	if result.Run.Summary.NSites != 120 {
		t.Fatalf("expected 120 sites, got %d", result.Run.Summary.NSites)
	}
	if result.Distances == nil || len(result.Distances.Names) != 6 {
		t.Fatalf("expected a 6x6 distance matrix, got %+v", result.Distances)
	}
	if result.Run.Config["mode"] != "loci" {
		t.Fatalf("expected config snapshot, got %+v", result.Run.Config)
	}

	run, results, err := c.GetRun(ctx, "run-loci")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Summary.Genealogies != len(results.Records) || results.Seqs == nil {
		t.Fatalf("stored run and results disagree: %+v", run.Summary)
	}
	if run.Summary.MissingCells > 0 && !results.Seqs.HasMissing() {
		t.Fatal("expected masked cells in stored sequences")
	}

	for _, file := range []string{"run.json", "table.csv", "summary.json", "distances.json"} {
		if _, err := os.Stat(filepath.Join(result.ArtifactDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
	entries, err := stats.ListRunIndex(cfg.OutputDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "run-loci" {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	if active := c.ActiveRuns(); len(active) != 0 {
		t.Fatalf("expected no active runs after completion, got %v", active)
	}
}

func TestRunWithMaskedRowsWritesUndefinedDistances(t *testing.T) {
	ctx := context.Background()
	c := startedCoordinator(t)

	cfg := testConfig()
	cfg.RunID = "run-masked"
	cfg.NLoci = 1
	cfg.OutputDir = t.TempDir()
	cfg.Missing = &config.MissingConfig{Coverage: coverage(0), CoverageType: "locus"}
	cfg.Distance = "hamming"

	result, err := c.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d, _ := result.Distances.Get("A_0", "B_1"); !math.IsNaN(d) {
		t.Fatalf("expected undefined distance between fully masked rows, got %v", d)
	}

	data, err := os.ReadFile(filepath.Join(result.ArtifactDir, "distances.json"))
	if err != nil {
		t.Fatalf("read distances: %v", err)
	}
	var written model.DistanceMatrix
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("decode distances: %v", err)
	}
	if len(written.Names) != 6 || !math.IsNaN(written.Values[0][1]) || written.Values[0][0] != 0 {
		t.Fatalf("unexpected written distances: %+v", written)
	}

	_, results, err := c.GetRun(ctx, "run-masked")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if results.Distances == nil || len(results.Distances.Names) != 6 {
		t.Fatalf("expected stored distances, got %+v", results.Distances)
	}
}

func TestRunRollsBackWhenArtifactsFail(t *testing.T) {
	ctx := context.Background()
	c := startedCoordinator(t)

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg := testConfig()
	cfg.RunID = "run-broken"
	cfg.OutputDir = blocker

	if _, err := c.Run(ctx, cfg); err == nil {
		t.Fatal("expected artifact write failure")
	}
	if _, _, err := c.GetRun(ctx, "run-broken"); !errors.Is(err, ErrRunUnknown) {
		t.Fatalf("expected rolled back run, got %v", err)
	}
}

func TestRunAssignsIDAndSupportsModes(t *testing.T) {
	ctx := context.Background()
	c := startedCoordinator(t)

	trees := testConfig()
	trees.Mode = config.ModeTrees
	trees.Missing = &config.MissingConfig{Coverage: coverage(0.5)}
	result, err := c.Run(ctx, trees)
	if err != nil {
		t.Fatalf("run trees: %v", err)
	}
	if result.Run.ID == "" || result.Results.Seqs != nil {
		t.Fatalf("unexpected trees result: id=%q seqs=%v", result.Run.ID, result.Results.Seqs)
	}

	snps := testConfig()
	snps.Mode = config.ModeSNPs
	snps.SNPs.NSNPs = 4
	result, err = c.Run(ctx, snps)
	if err != nil {
		t.Fatalf("run snps: %v", err)
	}
	if result.Results.Seqs.NSites != 4 || result.Run.Summary.SNPs != 4 {
		t.Fatalf("unexpected snps result: %+v", result.Run.Summary)
	}

	windows := testConfig()
	windows.Infer = config.InferConfig{Mode: "windows", WindowSize: 40}
	result, err = c.Run(ctx, windows)
	if err != nil {
		t.Fatalf("run windows: %v", err)
	}
	if len(result.Windows) != 9 {
		t.Fatalf("expected 3 windows per locus, got %d", len(result.Windows))
	}

	runs, err := c.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 stored runs, got %d", len(runs))
	}
}

func TestRunRejectsActiveDuplicate(t *testing.T) {
	c := startedCoordinator(t)
	if err := c.register("busy", func() {}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := testConfig()
	cfg.RunID = "busy"
	if _, err := c.Run(context.Background(), cfg); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := c.CancelRun("busy"); err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if err := c.CancelRun("idle"); !errors.Is(err, ErrRunUnknown) {
		t.Fatalf("expected ErrRunUnknown, got %v", err)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	c := startedCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Run(ctx, testConfig()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	runs, _ := c.ListRuns(context.Background())
	if len(runs) != 0 {
		t.Fatalf("expected nothing persisted, got %d runs", len(runs))
	}
}

func TestDeleteAndExportRun(t *testing.T) {
	ctx := context.Background()
	c := startedCoordinator(t)
	cfg := testConfig()
	cfg.RunID = "run-x"
	cfg.Distance = "jc"
	cfg.Infer = config.InferConfig{Mode: "windows", WindowSize: 60}
	if _, err := c.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	dir, err := c.Export(ctx, "run-x", t.TempDir())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"distances.json", "windows.json"} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			t.Fatalf("expected exported %s: %v", file, err)
		}
	}
	table, ok, err := stats.ReadTable(filepath.Dir(dir), "run-x")
	if err != nil || !ok || len(table) == 0 {
		t.Fatalf("expected exported table, ok=%t err=%v", ok, err)
	}

	if err := c.DeleteRun(ctx, "run-x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := c.GetRun(ctx, "run-x"); !errors.Is(err, ErrRunUnknown) {
		t.Fatalf("expected ErrRunUnknown, got %v", err)
	}
	if err := c.DeleteRun(ctx, "run-x"); !errors.Is(err, ErrRunUnknown) {
		t.Fatalf("expected ErrRunUnknown on second delete, got %v", err)
	}
}

func TestDemographyCompilesWithoutSimulating(t *testing.T) {
	c := startedCoordinator(t)
	cfg := testConfig()
	cfg.Admixture = []config.AdmixtureConfig{{
		Source: config.NodeConfig{Labels: []string{"A"}},
		Dest:   config.NodeConfig{Labels: []string{"B"}},
		Rate:   0.1,
	}}
	graph, err := c.Demography(cfg)
	if err != nil {
		t.Fatalf("demography: %v", err)
	}
	if len(graph.Populations) != 5 {
		t.Fatalf("expected one population per node, got %d", len(graph.Populations))
	}
	if graph.Debug() == "" {
		t.Fatal("expected debug output")
	}
}
