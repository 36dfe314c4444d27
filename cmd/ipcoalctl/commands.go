package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ipcoal/internal/config"
	"ipcoal/internal/metrics"
	"ipcoal/internal/platform"
	"ipcoal/internal/stats"
	"ipcoal/internal/storage"
	"ipcoal/pkg/ipcoal"
)

type globalFlags struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	jsonOut      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "ipcoalctl",
		Short:         "Simulate genealogies and sequence data on species trees with admixture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.storeKind, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "ipcoal.db", "sqlite database path")
	root.PersistentFlags().StringVar(&flags.artifactsDir, "artifacts-dir", "runs", "directory for run artifacts and the run index")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "emit JSON")

	root.AddCommand(
		newRunCmd(flags),
		newRunsCmd(flags),
		newShowCmd(flags),
		newExportCmd(flags),
		newDeleteCmd(flags),
		newDemographyCmd(flags),
	)
	return root
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation described by a YAML config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				shutdown, err := serveMetrics(metricsAddr)
				if err != nil {
					return err
				}
				defer shutdown()
			}
			if cfg.Store.Backend != "" && !cmd.Flags().Changed("store") {
				flags.storeKind = cfg.Store.Backend
				if cfg.Store.SQLitePath != "" {
					flags.dbPath = cfg.Store.SQLitePath
				}
			}
			client, err := newClient(flags, newLogger(cmd.ErrOrStderr(), cfg.Level()))
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s loci=%d samples=%d sites=%d genealogies=%d snps=%d missing=%d artifacts=%s\n",
				summary.RunID, summary.Summary.NLoci, summary.Summary.NSamples, summary.Summary.NSites,
				summary.Summary.Genealogies, summary.Summary.SNPs, summary.Summary.MissingCells, summary.ArtifactsDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML run config")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the artifacts run index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			entries, err := stats.ListRunIndex(flags.artifactsDir)
			if err != nil {
				return err
			}
			if len(entries) > limit {
				entries = entries[:limit]
			}
			if flags.jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "run_id\tcreated_at\tmode\tloci\tsamples\tgenealogies\tsnps")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					e.RunID, e.CreatedAtUTC, e.Mode, e.NLoci, e.NSamples, e.Genealogies, e.SNPs)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run and its result table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := loadDetail(cmd.Context(), flags, args[0])
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return writeJSON(cmd.OutOrStdout(), detail)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id=%s mode=%s created_at=%s\n", detail.Run.ID, detail.Run.Mode, detail.Run.CreatedAt.UTC().Format(time.RFC3339))
			if len(detail.Shape) == 3 {
				fmt.Fprintf(out, "seqs=%dx%dx%d\n", detail.Shape[0], detail.Shape[1], detail.Shape[2])
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "locus\tstart\tend\tnbps\tnsnps\ttidx\tgenealogy")
			for _, rec := range detail.Records {
				fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					rec.Locus, rec.Start, rec.End, rec.Length, rec.SNPs, rec.TreeIndex, rec.Genealogy)
			}
			return w.Flush()
		},
	}
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		outDir string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Copy a run's artifacts to an export directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			switch {
			case runID != "" && latest:
				return errors.New("use either run id or --latest")
			case runID == "" && !latest:
				return errors.New("export requires run id or --latest")
			}
			if latest {
				entries, err := stats.ListRunIndex(flags.artifactsDir)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return errors.New("no runs available to export")
				}
				runID = entries[0].RunID
			}
			dir, err := stats.ExportRunArtifacts(flags.artifactsDir, runID, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", runID, filepath.Clean(dir))
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "exports", "export directory")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags, newLogger(cmd.ErrOrStderr(), slog.LevelWarn))
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted run_id=%s\n", args[0])
			return nil
		},
	}
}

func newDemographyCmd(flags *globalFlags) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "demography",
		Short: "Print the populations and events compiled from a config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			coord := platform.NewCoordinator(platform.Config{Store: storage.NewMemoryStore(), Logger: newLogger(cmd.ErrOrStderr(), cfg.Level())})
			graph, err := coord.Demography(cfg)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return writeJSON(cmd.OutOrStdout(), graph)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), graph.Debug())
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML run config")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// loadDetail prefers the store and falls back to on-disk artifacts, which
// outlive the in-memory store between invocations.
func loadDetail(ctx context.Context, flags *globalFlags, runID string) (ipcoal.RunDetail, error) {
	client, err := newClient(flags, newLogger(io.Discard, slog.LevelError))
	if err != nil {
		return ipcoal.RunDetail{}, err
	}
	defer client.Close()

	detail, err := client.Show(ctx, runID)
	if err == nil {
		return detail, nil
	}
	if !errors.Is(err, platform.ErrRunUnknown) {
		return ipcoal.RunDetail{}, err
	}
	run, ok, rerr := stats.ReadRunRecord(flags.artifactsDir, runID)
	if rerr != nil {
		return ipcoal.RunDetail{}, rerr
	}
	if !ok {
		return ipcoal.RunDetail{}, err
	}
	table, _, rerr := stats.ReadTable(flags.artifactsDir, runID)
	if rerr != nil {
		return ipcoal.RunDetail{}, rerr
	}
	return ipcoal.RunDetail{Run: run, Records: table}, nil
}

func newClient(flags *globalFlags, logger *slog.Logger) (*ipcoal.Client, error) {
	return ipcoal.New(ipcoal.Options{
		StoreKind:    flags.storeKind,
		DBPath:       flags.dbPath,
		ArtifactsDir: flags.artifactsDir,
		Logger:       logger,
	})
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
