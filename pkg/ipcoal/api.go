// Package ipcoal is the public entry point for running coalescent
// simulations on species trees and inspecting stored runs.
package ipcoal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"ipcoal/internal/coalescent"
	"ipcoal/internal/config"
	"ipcoal/internal/model"
	"ipcoal/internal/platform"
	"ipcoal/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "ipcoal.db"
)

type RunConfig = config.RunConfig

func DefaultConfig() RunConfig {
	return config.Default()
}

func LoadConfig(path string) (RunConfig, error) {
	return config.Load(path)
}

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Engine       coalescent.Engine
	Logger       *slog.Logger
}

// Client is safe for concurrent use; runs started from different goroutines
// can be listed and canceled while they execute.
type Client struct {
	mu    sync.Mutex
	store storage.Store
	coord *platform.Coordinator

	engine       coalescent.Engine
	logger       *slog.Logger
	artifactsDir string
	exportsDir   string
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Summary      model.RunSummary
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Mode         string
	Seed         *int64
	Summary      model.RunSummary
}

type RunDetail struct {
	Run     model.RunRecord
	Names   []string
	Records []model.Record
	Shape   []int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		engine:       opts.Engine,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()
	if coord != nil {
		coord.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureCoordinator(ctx)
	return err
}

// Run executes cfg. Artifacts go to the client's artifacts directory unless
// cfg names its own.
func (c *Client) Run(ctx context.Context, cfg RunConfig) (RunSummary, error) {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = c.artifactsDir
	}
	result, err := coord.Run(ctx, cfg)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{
		RunID:        result.Run.ID,
		ArtifactsDir: filepath.Clean(result.ArtifactDir),
		Summary:      result.Run.Summary,
	}, nil
}

func (c *Client) RunFile(ctx context.Context, path string) (RunSummary, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return RunSummary{}, err
	}
	return c.Run(ctx, cfg)
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	runs, err := coord.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}

	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunItem{
			RunID:        run.ID,
			CreatedAtUTC: run.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Mode:         run.Mode,
			Seed:         run.Seed,
			Summary:      run.Summary,
		})
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, runID string) (RunDetail, error) {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return RunDetail{}, err
	}
	run, results, err := coord.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	detail := RunDetail{Run: run, Names: results.Names, Records: results.Records}
	if s := results.Seqs; s != nil {
		detail.Shape = []int{s.NLoci, s.NSamples, s.NSites}
	}
	return detail, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return ExportSummary{}, err
	}

	runID := req.RunID
	if req.Latest {
		runs, err := coord.ListRuns(ctx)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(runs) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = runs[0].ID
	}

	dir, err := coord.Export(ctx, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

func (c *Client) Delete(ctx context.Context, runID string) error {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return err
	}
	return coord.DeleteRun(ctx, runID)
}

// Demography returns the compiled population and event listing for cfg.
func (c *Client) Demography(ctx context.Context, cfg RunConfig) (string, error) {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return "", err
	}
	graph, err := coord.Demography(cfg)
	if err != nil {
		return "", fmt.Errorf("compile demography: %w", err)
	}
	return graph.Debug(), nil
}

// ActiveRuns lists the ids of runs still executing.
func (c *Client) ActiveRuns() []string {
	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()
	if coord == nil {
		return nil
	}
	return coord.ActiveRuns()
}

// Cancel stops an executing run. Its Run call returns context.Canceled and
// nothing is persisted.
func (c *Client) Cancel(ctx context.Context, runID string) error {
	coord, err := c.ensureCoordinator(ctx)
	if err != nil {
		return err
	}
	return coord.CancelRun(runID)
}

func (c *Client) ensureCoordinator(ctx context.Context) (*platform.Coordinator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coord != nil {
		return c.coord, nil
	}
	coord := platform.NewCoordinator(platform.Config{
		Store:  c.store,
		Engine: c.engine,
		Logger: c.logger,
	})
	if err := coord.Init(ctx); err != nil {
		return nil, err
	}
	c.coord = coord
	return c.coord, nil
}
