package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shpitdev/geodatacheck/internal/app"
	"github.com/shpitdev/geodatacheck/pkg/enrichment"
)

type runFlags struct {
	input       string
	output      string
	diagnostics string
	summary     string

	registryURL string
	caPath      string
	concurrency int
	sequential  bool
	timeout     time.Duration
	rateLimit   float64
	tolerance   float64
	batchSize   int
	rules       []string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate an input CSV and write the enriched table and diagnostics",
		Example: `  geodatacheck run --input buildings.csv --output enriched.csv --diagnostics diagnostics.csv
  geodatacheck run --input export.csv --map buildingId=Gebäudenummer --sequential`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, g, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "input CSV (comma or semicolon separated)")
	fl.StringVarP(&f.output, "output", "o", "", "enriched CSV output (default <input>.enriched.csv)")
	fl.StringVar(&f.diagnostics, "diagnostics", "", "diagnostics CSV output (default <input>.diagnostics.csv)")
	fl.StringVar(&f.summary, "summary", "", "run summary JSON output (optional)")
	fl.StringVar(&f.registryURL, "registry-url", "", "registry base URL (env: GEODATACHECK_REGISTRY_BASE_URL)")
	fl.StringVar(&f.caPath, "ca-path", "", "PEM bundle replacing the system trust store (env: GEODATACHECK_REGISTRY_CA_PATH)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "concurrent registry lookups (env: GEODATACHECK_REGISTRY_CONCURRENCY)")
	fl.BoolVar(&f.sequential, "sequential", false, "one registry lookup at a time (env: GEODATACHECK_REGISTRY_SEQUENTIAL)")
	fl.DurationVar(&f.timeout, "request-timeout", 0, "per-lookup timeout (env: GEODATACHECK_REGISTRY_REQUEST_TIMEOUT)")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "max registry requests per second in concurrent mode, 0 unlimited (env: GEODATACHECK_REGISTRY_RATE_LIMIT_RPS)")
	fl.Float64Var(&f.tolerance, "tolerance", 0, "coordinate tolerance in metres (env: GEODATACHECK_MATCH_TOLERANCE_M)")
	fl.IntVar(&f.batchSize, "batch-size", 0, "rows per lookup batch (env: GEODATACHECK_PIPELINE_BATCH_SIZE)")
	fl.StringSliceVar(&f.rules, "rules", nil, "enable only these rule ids (env: GEODATACHECK_PIPELINE_RULES)")
	return cmd
}

func runValidate(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	if f.input == "" {
		return usageError{errors.New("run requires --input")}
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	fl := cmd.Flags()
	if fl.Changed("registry-url") {
		cfg.Registry.BaseURL = f.registryURL
	}
	if fl.Changed("ca-path") {
		cfg.Registry.CAPath = f.caPath
	}
	if fl.Changed("concurrency") {
		cfg.Registry.Concurrency = f.concurrency
	}
	if fl.Changed("sequential") {
		cfg.Registry.Sequential = f.sequential
	}
	if fl.Changed("request-timeout") {
		cfg.Registry.RequestTimeout = f.timeout
	}
	if fl.Changed("rate-limit") {
		cfg.Registry.RateLimitRPS = f.rateLimit
	}
	if fl.Changed("tolerance") {
		cfg.Match.ToleranceMeters = f.tolerance
	}
	if fl.Changed("batch-size") {
		cfg.Pipeline.BatchSize = f.batchSize
	}
	if fl.Changed("rules") {
		cfg.Pipeline.Rules = f.rules
	}
	if err := cfg.Validate(); err != nil {
		return &app.ConfigError{Err: err}
	}

	log, err := g.logger(cmd, cfg)
	if err != nil {
		return err
	}

	output, diagnostics := f.output, f.diagnostics
	if output == "" {
		output = siblingPath(f.input, "enriched")
	}
	if diagnostics == "" {
		diagnostics = siblingPath(f.input, "diagnostics")
	}

	res, err := app.RunLocal(cmd.Context(), app.LocalRun{
		InputPath:       f.input,
		OutputPath:      output,
		DiagnosticsPath: diagnostics,
		SummaryPath:     f.summary,
		Config:          cfg,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), res.Summary)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enriched:    %s\ndiagnostics: %s\n", output, diagnostics)
	if res.Summary.Incomplete {
		return errors.New("run interrupted; reports cover the enriched prefix only")
	}
	return nil
}

// siblingPath turns "dir/in.csv" into "dir/in.<kind>.csv".
func siblingPath(input, kind string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "." + kind + ".csv"
}

func printSummary(w io.Writer, s enrichment.Summary) {
	_, _ = fmt.Fprintf(w, "rows:        %d (%d enriched, %d passed, %.1f%%)\n",
		s.TotalRows, s.EnrichedRows, s.PassedRows, s.SuccessRate)
	_, _ = fmt.Fprintf(w, "diagnostics: %d errors, %d warnings, %d infos\n", s.Errors, s.Warnings, s.Infos)
	_, _ = fmt.Fprintf(w, "lookups:     %d (%d failed, %d skipped)", s.Lookups, s.FetchErrors, s.SkippedLookups)
	if s.Fallback {
		_, _ = fmt.Fprint(w, ", sequential fallback")
	}
	_, _ = fmt.Fprintln(w)

	labels := make([]string, 0, len(s.Labels))
	for l, n := range s.Labels {
		labels = append(labels, fmt.Sprintf("%s=%d", l, n))
	}
	sort.Strings(labels)
	_, _ = fmt.Fprintf(w, "labels:      %s\n", strings.Join(labels, " "))
}
