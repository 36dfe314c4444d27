package storage

import (
	"context"
	"testing"
	"time"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestOpenInitializesStore(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer CloseIfSupported(store)

	if err := store.SaveRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatalf("save run on opened store: %v", err)
	}
}
