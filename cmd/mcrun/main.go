package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/mcrun/internal/automation"
	"github.com/san-kum/mcrun/internal/config"
	"github.com/san-kum/mcrun/internal/experiment"
	"github.com/san-kum/mcrun/internal/resultsio"
	"github.com/san-kum/mcrun/internal/run"
	"github.com/san-kum/mcrun/internal/tui"
)

var (
	configFile string
	preset     string
	output     string
	storeKind  string
	seed       int64
	nStates    int
	logLevel   string
	logFormat  string
	// plot and export-csv
	fixtureLabel string
	observable   string
	// campaign
	resumeCampaign bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mcrun",
		Short:         "monte carlo run sequences with converged observables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "run file (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset run file")
	pf.StringVar(&output, "output", "", "results path (overrides results.path)")
	pf.StringVar(&storeKind, "store", "", "results store: json or sqlite (overrides results.kind)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the state sequence of a run file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(cmd, false)
		},
	}
	runCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	runCmd.Flags().IntVar(&nStates, "n-states", 0, "number of states (overrides sequence.n_states)")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "continue a sequence after the runs already stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(cmd, true)
		},
	}
	resumeCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	resumeCmd.Flags().IntVar(&nStates, "n-states", 0, "number of states (overrides sequence.n_states)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "show converged observables of every stored run",
		Args:  cobra.NoArgs,
		RunE:  showSummary,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run]",
		Short: "plot sampled observables of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&fixtureLabel, "fixture", "", "fixture label (default: first fixture)")
	plotCmd.Flags().StringVar(&observable, "observable", "", "observable as name[:component] (default: all)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run]",
		Short: "export sampled observables of a run to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVar(&fixtureLabel, "fixture", "", "fixture label (default: first fixture)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "print the status of the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := run.ReadStatus(cfg.StatusPath())
			if err != nil {
				return err
			}
			tui.PrintStatus(os.Stdout, s)
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "live monitor of the current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return tui.Run(ctx, cfg.StatusPath())
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKERNEL\tSTATES\tDEPENDENT")
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", name, cfg.Kernel, cfg.Sequence.NStates, cfg.Sequence.DependentRuns)
			}
			return w.Flush()
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write a run file from the defaults or a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	campaignCmd := &cobra.Command{
		Use:   "campaign [file]",
		Short: "run independent sequences of a campaign file in parallel",
		Args:  cobra.ExactArgs(1),
		RunE:  runCampaign,
	}
	campaignCmd.Flags().BoolVar(&resumeCampaign, "resume", false, "continue each sequence after its stored runs")

	rootCmd.AddCommand(runCmd, resumeCmd, listCmd, summaryCmd, plotCmd, exportCSVCmd, statusCmd, watchCmd, presetsCmd, initCmd, campaignCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig builds the run file from --preset or --config, then applies
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case preset != "" && configFile != "":
		return nil, fmt.Errorf("--preset and --config are exclusive")
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	case configFile != "":
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	default:
		cfg = config.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Results.Path = output
	}
	if flags.Changed("store") {
		cfg.Results.Kind = storeKind
	}
	if flags.Changed("n-states") {
		cfg.Sequence.NStates = nStates
	}
	if flags.Lookup("seed") != nil && (cfg.Seed == 0 || flags.Changed("seed")) {
		cfg.Seed = seed
	}
	if flags.Changed("log-level") || cfg.Log.Level == "" {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") || cfg.Log.Format == "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runSequence(cmd *cobra.Command, resume bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	exp, err := experiment.New(cfg, experiment.WithLogger(logger))
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if resume {
		n, err := exp.Resume(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("resuming after %d stored runs\n", n)
	}

	fmt.Printf("running %s: %d states, seed %d\n", cfg.Kernel, cfg.Sequence.NStates, cfg.Seed)
	start := time.Now()
	rep, err := exp.Run(ctx)
	elapsed := time.Since(start)

	fmt.Printf("completed %d runs in %v\n", len(rep.Completed), elapsed.Round(time.Millisecond))
	if len(rep.Skipped) > 0 {
		fmt.Printf("skipped runs: %v\n", rep.Skipped)
	}
	fmt.Printf("results: %s (%s)\n", exp.Store().Namespace(), cfg.Results.Kind)
	return err
}

func runCampaign(cmd *cobra.Command, args []string) error {
	c, err := automation.LoadCampaign(args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("resume") {
		c.Resume = resumeCampaign
	}
	logger := newLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("running campaign %s: %d sequences\n", c.Name, len(c.Runs))
	start := time.Now()
	results, err := automation.RunCampaign(ctx, c, filepath.Dir(args[0]), logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQUENCE\tRESUMED\tCOMPLETED\tSKIPPED\tERRORS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\n",
			r.Name, r.Resumed, len(r.Report.Completed), intList(r.Report.Skipped), len(r.Report.Errors))
	}
	w.Flush()
	fmt.Printf("finished in %v\n", time.Since(start).Round(time.Millisecond))
	return err
}

func openStore(cmd *cobra.Command) (resultsio.ResultsIO, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return resultsio.Open(cfg.Results.Kind, cfg.Results.Path)
}

func intList(v []int) string {
	if len(v) == 0 {
		return "-"
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
