// Package platform runs configured simulations end to end: model build,
// simulation, masking, distances, inference, persistence and artifacts.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ipcoal/internal/coalescent"
	"ipcoal/internal/config"
	"ipcoal/internal/demography"
	"ipcoal/internal/distance"
	"ipcoal/internal/infer"
	"ipcoal/internal/missing"
	"ipcoal/internal/model"
	"ipcoal/internal/sim"
	"ipcoal/internal/stats"
	"ipcoal/internal/storage"
)

var (
	ErrNotStarted = errors.New("coordinator is not initialized")
	ErrRunActive  = errors.New("run is already active")
	ErrRunUnknown = errors.New("run not found")
)

type Config struct {
	Store    storage.Store
	Engine   coalescent.Engine
	Inferrer infer.Inferrer
	Logger   *slog.Logger
	Now      func() time.Time
}

// RunResult is everything a run produced. Distances and Windows are set
// only when requested by the run config.
type RunResult struct {
	Run         model.RunRecord
	Results     model.RunResults
	Distances   *distance.Matrix
	Windows     []infer.Window
	ArtifactDir string
}

type Coordinator struct {
	store    storage.Store
	engine   coalescent.Engine
	inferrer infer.Inferrer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	started bool
	active  map[string]context.CancelFunc
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		store:    cfg.Store,
		engine:   cfg.Engine,
		inferrer: cfg.Inferrer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		active:   make(map[string]context.CancelFunc),
	}
	if c.inferrer == nil {
		c.inferrer = infer.NewNJ()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Coordinator) Init(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("store is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

func (c *Coordinator) Started() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Stop cancels active runs. The store is left open for the caller to close.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.active {
		cancel()
	}
	c.active = make(map[string]context.CancelFunc)
	c.started = false
}

func (c *Coordinator) ActiveRuns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.active))
	for id := range c.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) CancelRun(runID string) error {
	c.mu.RLock()
	cancel, ok := c.active[runID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunUnknown, runID)
	}
	cancel()
	return nil
}

// Demography compiles the configured model without simulating.
func (c *Coordinator) Demography(cfg config.RunConfig) (*demography.Graph, error) {
	m, err := c.buildModel(cfg)
	if err != nil {
		return nil, err
	}
	return m.Demography(), nil
}

// Run executes one configured simulation and persists its results.
func (c *Coordinator) Run(ctx context.Context, cfg config.RunConfig) (RunResult, error) {
	if !c.Started() {
		return RunResult{}, ErrNotStarted
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.register(runID, cancel); err != nil {
		return RunResult{}, err
	}
	defer c.unregister(runID)

	started := c.now()
	logger := c.logger.With("run_id", runID, "mode", cfg.Mode)
	m, err := c.buildModel(cfg)
	if err != nil {
		return RunResult{}, err
	}

	if err := simulate(ctx, m, cfg); err != nil {
		return RunResult{}, fmt.Errorf("simulate %s: %w", cfg.Mode, err)
	}

	out := RunResult{}
	masked := 0
	if opts, ok := cfg.MissingOptions(); ok {
		if m.Seqs() == nil {
			logger.Warn("missing-data mask ignored for a run without sequences")
		} else if masked, err = missing.Apply(m.Seqs(), m.Ancestral(), opts); err != nil {
			return RunResult{}, err
		}
	}
	if method, ok := cfg.DistanceMethod(); ok && m.Seqs() != nil {
		matrix, err := distance.Pairwise(m.Seqs(), m.Names(), method)
		if err != nil {
			return RunResult{}, err
		}
		out.Distances = &matrix
	}
	switch cfg.Infer.Mode {
	case "loci":
		trees, err := infer.GeneTrees(ctx, m, c.inferrer)
		if err != nil {
			return RunResult{}, err
		}
		if err := m.SetInferredTrees(trees); err != nil {
			return RunResult{}, err
		}
	case "windows":
		if out.Windows, err = infer.Windows(ctx, m, cfg.Infer.WindowSize, c.inferrer); err != nil {
			return RunResult{}, err
		}
	}

	out.Run = model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		Mode:            cfg.Mode,
		CreatedAt:       started.UTC(),
		Seed:            cfg.Seed,
		Config:          configMap(cfg),
		Summary:         summarize(m, masked, c.now().Sub(started)),
	}
	out.Results = model.RunResults{
		VersionedRecord: storage.Versioned(),
		RunID:           runID,
		Names:           m.Names(),
		Records:         m.Table(),
		Seqs:            m.Seqs(),
		Ancestral:       m.Ancestral(),
		Distances:       out.Distances,
		Windows:         out.Windows,
	}

	if err := c.store.SaveRun(ctx, out.Run); err != nil {
		return RunResult{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := c.store.SaveResults(ctx, out.Results); err != nil {
		return RunResult{}, c.rollback(runID, fmt.Errorf("save results %s: %w", runID, err))
	}
	if cfg.OutputDir != "" {
		dir, err := stats.WriteRunArtifacts(cfg.OutputDir, artifactsOf(out.Run, out.Results))
		if err != nil {
			return RunResult{}, c.rollback(runID, fmt.Errorf("write artifacts %s: %w", runID, err))
		}
		if err := stats.AppendRunIndex(cfg.OutputDir, stats.IndexEntry(out.Run)); err != nil {
			return RunResult{}, c.rollback(runID, fmt.Errorf("update run index: %w", err))
		}
		out.ArtifactDir = dir
	}

	logger.Info("run complete",
		"genealogies", out.Run.Summary.Genealogies,
		"snps", out.Run.Summary.SNPs,
		"missing_cells", masked,
		"seconds", out.Run.Summary.Seconds)
	return out, nil
}

func (c *Coordinator) GetRun(ctx context.Context, runID string) (model.RunRecord, model.RunResults, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, model.RunResults{}, err
	}
	if !ok {
		return model.RunRecord{}, model.RunResults{}, fmt.Errorf("%w: %s", ErrRunUnknown, runID)
	}
	results, _, err := c.store.GetResults(ctx, runID)
	if err != nil {
		return model.RunRecord{}, model.RunResults{}, err
	}
	return run, results, nil
}

func (c *Coordinator) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	return c.store.ListRuns(ctx)
}

func (c *Coordinator) DeleteRun(ctx context.Context, runID string) error {
	if _, ok, err := c.store.GetRun(ctx, runID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrRunUnknown, runID)
	}
	return c.store.DeleteRun(ctx, runID)
}

// Export writes the artifacts of a stored run under outDir.
func (c *Coordinator) Export(ctx context.Context, runID, outDir string) (string, error) {
	run, results, err := c.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return stats.WriteRunArtifacts(outDir, artifactsOf(run, results))
}

func artifactsOf(run model.RunRecord, results model.RunResults) stats.RunArtifacts {
	return stats.RunArtifacts{
		Run:       run,
		Table:     results.Records,
		Distances: results.Distances,
		Windows:   results.Windows,
	}
}

// rollback deletes a partially persisted run and returns cause.
func (c *Coordinator) rollback(runID string, cause error) error {
	// The run context may already be canceled.
	if err := c.store.DeleteRun(context.Background(), runID); err != nil {
		c.logger.Warn("rollback failed", "run_id", runID, "error", err)
	}
	return cause
}

func (c *Coordinator) buildModel(cfg config.RunConfig) (*sim.Model, error) {
	opts, err := cfg.SimOptions(c.logger)
	if err != nil {
		return nil, err
	}
	if c.engine != nil {
		opts.Engine = c.engine
	}
	return sim.New(opts)
}

func (c *Coordinator) register(runID string, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.active[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	c.active[runID] = cancel
	return nil
}

func (c *Coordinator) unregister(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, runID)
}

func simulate(ctx context.Context, m *sim.Model, cfg config.RunConfig) error {
	nsites := cfg.NSites
	if cfg.RateMap != nil {
		nsites = 0
	}
	switch cfg.Mode {
	case config.ModeTrees:
		return m.SimTrees(ctx, cfg.NLoci, nsites)
	case config.ModeSNPs:
		return m.SimSNPs(ctx, cfg.SNPOptions())
	default:
		return m.SimLoci(ctx, cfg.NLoci, nsites)
	}
}

func summarize(m *sim.Model, masked int, elapsed time.Duration) model.RunSummary {
	table := m.Table()
	loci := map[int]bool{}
	summary := model.RunSummary{
		NSamples:     len(m.Names()),
		Genealogies:  len(table),
		MissingCells: masked,
		Neff:         m.Neff(),
		Seconds:      elapsed.Seconds(),
	}
	for _, rec := range table {
		loci[rec.Locus] = true
		summary.SNPs += rec.SNPs
		if rec.Locus == 0 {
			summary.NSites += rec.Length
		}
	}
	summary.NLoci = len(loci)
	if seqs := m.Seqs(); seqs != nil {
		summary.NLoci = seqs.NLoci
		summary.NSites = seqs.NSites
	}
	return summary
}

// configMap flattens the run config through its YAML tags so stored runs
// use the same keys as config files.
func configMap(cfg config.RunConfig) map[string]any {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
