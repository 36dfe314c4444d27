package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ipcoal/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	results     map[string]model.RunResults
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.results = make(map[string]model.RunResults)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return err
	}
	cp := run
	cp.Config = cloneConfig(run.Config)
	s.runs[run.ID] = cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	run.Config = cloneConfig(run.Config)
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveResults(_ context.Context, results model.RunResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(results.VersionedRecord); err != nil {
		return err
	}
	s.results[results.RunID] = cloneResults(results)
	return nil
}

func (s *MemoryStore) GetResults(_ context.Context, runID string) (model.RunResults, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, ok := s.results[runID]
	if !ok {
		return model.RunResults{}, false, nil
	}
	return cloneResults(results), true, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.results, id)
	return nil
}

var errNotInitialized = errors.New("store is not initialized")

func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneResults(in model.RunResults) model.RunResults {
	out := in
	out.Names = append([]string(nil), in.Names...)
	out.Records = append([]model.Record(nil), in.Records...)
	out.Seqs = in.Seqs.Clone()
	out.Ancestral = append([]uint8(nil), in.Ancestral...)
	out.Distances = in.Distances.Clone()
	out.Windows = append([]model.Window(nil), in.Windows...)
	return out
}

// sortRuns orders runs newest first, breaking ties by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
