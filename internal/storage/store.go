package storage

import (
	"context"

	"ipcoal/internal/model"
)

// Store persists simulation runs and their results.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveResults(ctx context.Context, results model.RunResults) error
	GetResults(ctx context.Context, runID string) (model.RunResults, bool, error)
	DeleteRun(ctx context.Context, id string) error
}
