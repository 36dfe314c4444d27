//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreRunAndResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ipcoal.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	base := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := store.SaveRun(ctx, testRun("run-a", base)); err != nil {
		t.Fatalf("save run a: %v", err)
	}
	if err := store.SaveRun(ctx, testRun("run-b", base.Add(time.Hour))); err != nil {
		t.Fatalf("save run b: %v", err)
	}
	if err := store.SaveResults(ctx, testResults("run-a")); err != nil {
		t.Fatalf("save results: %v", err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	results, ok, err := store.GetResults(ctx, "run-a")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if !ok || results.Seqs.At(1, 3, 9) != 2 {
		t.Fatalf("unexpected results: ok=%t %+v", ok, results)
	}

	if err := store.DeleteRun(ctx, "run-a"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, ok, _ := store.GetResults(ctx, "run-a"); ok {
		t.Fatal("expected results to be deleted")
	}
	if _, ok, _ := store.GetRun(ctx, "run-a"); ok {
		t.Fatal("expected run to be deleted")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ipcoal.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init first: %v", err)
	}
	if err := first.SaveRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("init second: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	run, ok, err := second.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("expected persisted run, ok=%t err=%v", ok, err)
	}
	if run.Mode != "loci" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "ipcoal.db"))
	if _, _, err := store.GetRun(context.Background(), "x"); err == nil {
		t.Fatal("expected error before init")
	}
}
