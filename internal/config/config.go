// Package config loads run configurations from YAML with IPCOAL_ prefixed
// environment overrides.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ipcoal/internal/admix"
	"ipcoal/internal/coalescent"
	"ipcoal/internal/distance"
	"ipcoal/internal/missing"
	"ipcoal/internal/sampling"
	"ipcoal/internal/sim"
	"ipcoal/internal/simerr"
	"ipcoal/internal/sptree"
)

const EnvPrefix = "IPCOAL_"

const (
	ModeTrees = "trees"
	ModeLoci  = "loci"
	ModeSNPs  = "snps"
)

type RunConfig struct {
	RunID             string              `yaml:"run_id" env:"RUN_ID"`
	Mode              string              `yaml:"mode" env:"MODE" validate:"oneof=trees loci snps"`
	Tree              string              `yaml:"tree" env:"TREE"`
	Ne                float64             `yaml:"ne" env:"NE" validate:"gte=0"`
	NeByIndex         map[int]float64     `yaml:"ne_by_index" validate:"dive,gt=0"`
	NeByLabel         map[string]float64  `yaml:"ne_by_label" validate:"dive,gt=0"`
	NSamples          int                 `yaml:"nsamples" env:"NSAMPLES" validate:"gte=0"`
	SamplesByLabel    map[string]int      `yaml:"samples_by_label"`
	Admixture         []AdmixtureConfig   `yaml:"admixture" validate:"dive"`
	MutationRate      float64             `yaml:"mut" env:"MUT" validate:"gte=0"`
	RecombinationRate float64             `yaml:"recomb" env:"RECOMB" validate:"gte=0"`
	RateMap           *coalescent.RateMap `yaml:"rate_map"`
	SubstModel        string              `yaml:"subst_model" env:"SUBST_MODEL"`
	Seed              *int64              `yaml:"seed" env:"SEED"`
	MutationSeed      *int64              `yaml:"mutation_seed" env:"MUTATION_SEED"`
	Workers           int                 `yaml:"workers" env:"WORKERS" validate:"gte=0"`
	NLoci             int                 `yaml:"nloci" env:"NLOCI" validate:"gte=0"`
	NSites            int                 `yaml:"nsites" env:"NSITES" validate:"gte=0"`
	Precision         int                 `yaml:"precision" env:"PRECISION" validate:"gte=0,lte=17"`
	SNPs              SNPConfig           `yaml:"snps" envPrefix:"SNPS_"`
	Missing           *MissingConfig      `yaml:"missing"`
	Distance          string              `yaml:"distance" env:"DISTANCE" validate:"omitempty,oneof=hamming jc"`
	Infer             InferConfig         `yaml:"infer" envPrefix:"INFER_"`
	Store             StoreConfig         `yaml:"store" envPrefix:"STORE_"`
	OutputDir         string              `yaml:"output_dir" env:"OUTPUT_DIR"`
	LogLevel          string              `yaml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

type SNPConfig struct {
	NSNPs         int  `yaml:"nsnps" env:"N" validate:"gte=0"`
	MinAlleles    int  `yaml:"min_alleles" env:"MIN_ALLELES" validate:"gte=0"`
	MaxAlleles    int  `yaml:"max_alleles" env:"MAX_ALLELES" validate:"gte=0"`
	MinMutations  int  `yaml:"min_mutations" env:"MIN_MUTATIONS" validate:"gte=0"`
	MaxMutations  int  `yaml:"max_mutations" env:"MAX_MUTATIONS" validate:"gte=0"`
	RepeatOnTrees bool `yaml:"repeat_on_trees" env:"REPEAT_ON_TREES"`
	MaxAttempts   int  `yaml:"max_attempts" env:"MAX_ATTEMPTS" validate:"gte=0"`
}

type MissingConfig struct {
	Coverage     *float64 `yaml:"coverage" validate:"omitempty,gte=0,lte=1"`
	CutSites     [2]int   `yaml:"cut_sites"`
	CoverageType string   `yaml:"coverage_type" validate:"omitempty,oneof=locus site"`
	Seed         *int64   `yaml:"seed"`
}

type InferConfig struct {
	Mode       string `yaml:"mode" env:"MODE" validate:"omitempty,oneof=none loci windows"`
	WindowSize int    `yaml:"window_size" env:"WINDOW_SIZE" validate:"gte=0"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND" validate:"omitempty,oneof=memory sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// AdmixtureConfig names nodes by index or by the tip labels whose MRCA is
// meant. Time is omitted for the default quartile interval.
type AdmixtureConfig struct {
	Source NodeConfig  `yaml:"source"`
	Dest   NodeConfig  `yaml:"dest"`
	Time   *TimeConfig `yaml:"time"`
	Rate   float64     `yaml:"rate" validate:"gte=0"`
}

type NodeConfig struct {
	Index  *int     `yaml:"index"`
	Labels []string `yaml:"labels"`
}

type TimeConfig struct {
	Kind   string    `yaml:"kind" validate:"oneof=proportion height"`
	Values []float64 `yaml:"values" validate:"min=1,max=2"`
}

func Default() RunConfig {
	return RunConfig{
		Mode:         ModeLoci,
		Tree:         "((A:100000,B:100000):100000,C:200000);",
		Ne:           10000,
		NSamples:     2,
		MutationRate: 1e-8,
		SubstModel:   "JC69",
		NLoci:        10,
		NSites:       1000,
		Precision:    sim.DefaultPrecision,
		SNPs: SNPConfig{
			NSNPs:        100,
			MinAlleles:   2,
			MinMutations: 1,
		},
		Infer:    InferConfig{Mode: "none"},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("%w: decode yaml: %w", simerr.ErrConfiguration, err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return RunConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func ApplyEnv(cfg *RunConfig) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var validate = validator.New()

func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return simerr.Configf("invalid fields: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", simerr.ErrConfiguration, err)
	}
	if c.NSamples == 0 && len(c.SamplesByLabel) == 0 {
		return simerr.Configf("either nsamples or samples_by_label is required")
	}
	switch c.Mode {
	case ModeSNPs:
		if c.SNPs.NSNPs < 1 {
			return simerr.Configf("snps mode needs snps.nsnps >= 1")
		}
	default:
		if c.NLoci < 1 {
			return simerr.Configf("%s mode needs nloci >= 1", c.Mode)
		}
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return simerr.Configf("sqlite store needs store.sqlite_path")
	}
	return nil
}

// SimOptions builds the model options described by the config. The tree
// carries the sizes: ne on every node, then ne_by_index, then ne_by_label.
func (c RunConfig) SimOptions(logger *slog.Logger) (sim.Options, error) {
	tree, err := c.SpeciesTree()
	if err != nil {
		return sim.Options{}, err
	}
	edges := make([]admix.Edge, 0, len(c.Admixture))
	for i, a := range c.Admixture {
		edge, err := a.Edge()
		if err != nil {
			return sim.Options{}, fmt.Errorf("admixture %d: %w", i, err)
		}
		edges = append(edges, edge)
	}
	samples := sampling.Uniform(c.NSamples)
	if len(c.SamplesByLabel) > 0 {
		samples = sampling.ByLabel(c.SamplesByLabel)
	}
	return sim.Options{
		Tree:              tree,
		Admixture:         edges,
		Samples:           samples,
		MutationRate:      c.MutationRate,
		RecombinationRate: c.RecombinationRate,
		RateMap:           c.RateMap,
		SubstModel:        c.SubstModel,
		Seed:              c.Seed,
		MutationSeed:      c.MutationSeed,
		Precision:         c.Precision,
		Workers:           c.Workers,
		Logger:            logger,
	}, nil
}

// SpeciesTree parses the newick tree and assigns the configured sizes.
// Label keys name a tip, or several comma separated tips for their MRCA.
func (c RunConfig) SpeciesTree() (*sptree.Tree, error) {
	tree, err := sptree.Parse(c.Tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", simerr.ErrConfiguration, err)
	}
	if c.Ne > 0 {
		if err := tree.SetNe(c.Ne); err != nil {
			return nil, fmt.Errorf("%w: %w", simerr.ErrConfiguration, err)
		}
	}
	for _, idx := range sortedKeys(c.NeByIndex) {
		if err := tree.SetNodeNe(idx, c.NeByIndex[idx]); err != nil {
			return nil, fmt.Errorf("%w: ne_by_index: %w", simerr.ErrConfiguration, err)
		}
	}
	for _, key := range sortedKeys(c.NeByLabel) {
		names := strings.Split(key, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		node, err := tree.MRCA(names...)
		if err != nil {
			return nil, fmt.Errorf("%w: ne_by_label %q: %w", simerr.ErrConfiguration, key, err)
		}
		if err := tree.SetNodeNe(node.Index, c.NeByLabel[key]); err != nil {
			return nil, fmt.Errorf("%w: ne_by_label: %w", simerr.ErrConfiguration, err)
		}
	}
	return tree, nil
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (c RunConfig) SNPOptions() sim.SNPOptions {
	return sim.SNPOptions{
		NSNPs:         c.SNPs.NSNPs,
		MinAlleles:    c.SNPs.MinAlleles,
		MaxAlleles:    c.SNPs.MaxAlleles,
		MinMutations:  c.SNPs.MinMutations,
		MaxMutations:  c.SNPs.MaxMutations,
		RepeatOnTrees: c.SNPs.RepeatOnTrees,
		MaxAttempts:   c.SNPs.MaxAttempts,
	}
}

// MissingOptions reports false when no masking is configured.
func (c RunConfig) MissingOptions() (missing.Options, bool) {
	if c.Missing == nil {
		return missing.Options{}, false
	}
	opts := missing.DefaultOptions()
	if c.Missing.Coverage != nil {
		opts.Coverage = *c.Missing.Coverage
	}
	if c.Missing.CoverageType != "" {
		opts.CoverageType = missing.CoverageType(c.Missing.CoverageType)
	}
	opts.CutSites = c.Missing.CutSites
	opts.Seed = c.Missing.Seed
	return opts, true
}

// DistanceMethod reports false when no distance matrix is requested.
func (c RunConfig) DistanceMethod() (distance.Method, bool) {
	if c.Distance == "" {
		return "", false
	}
	m, err := distance.ParseMethod(c.Distance)
	return m, err == nil
}

func (c RunConfig) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a AdmixtureConfig) Edge() (admix.Edge, error) {
	src, err := a.Source.ref()
	if err != nil {
		return admix.Edge{}, err
	}
	dst, err := a.Dest.ref()
	if err != nil {
		return admix.Edge{}, err
	}
	edge := admix.Edge{Source: src, Dest: dst, Rate: a.Rate}
	if a.Time == nil {
		return edge, nil
	}
	v := a.Time.Values
	switch {
	case a.Time.Kind == "proportion" && len(v) == 1:
		edge.Time = admix.AtProportion(v[0])
	case a.Time.Kind == "proportion" && len(v) == 2:
		edge.Time = admix.OverProportions(v[0], v[1])
	case a.Time.Kind == "height" && len(v) == 1:
		edge.Time = admix.AtHeight(v[0])
	case a.Time.Kind == "height" && len(v) == 2:
		edge.Time = admix.OverHeights(v[0], v[1])
	default:
		return admix.Edge{}, simerr.Configf("admixture time needs kind proportion|height with 1 or 2 values, got %q %v", a.Time.Kind, v)
	}
	return edge, nil
}

func (n NodeConfig) ref() (admix.NodeRef, error) {
	switch {
	case n.Index != nil && len(n.Labels) == 0:
		return admix.ByIndex(*n.Index), nil
	case n.Index == nil && len(n.Labels) > 0:
		return admix.ByLabels(n.Labels...), nil
	default:
		return admix.NodeRef{}, simerr.Configf("admixture node needs exactly one of index or labels")
	}
}
