package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shpitdev/geodatacheck/internal/config"
	"github.com/shpitdev/geodatacheck/internal/version"
	"github.com/shpitdev/geodatacheck/pkg/columns"
	"github.com/shpitdev/geodatacheck/pkg/enrichment"
	localio "github.com/shpitdev/geodatacheck/pkg/pipeline/io/local"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/redact"
	"github.com/shpitdev/geodatacheck/pkg/registry"
)

// ConfigError is a problem with the run's configuration rather than with its data.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err should be treated as a configuration problem.
func IsConfigError(err error) bool {
	var appErr *ConfigError
	var colErr *columns.ConfigError
	return errors.As(err, &appErr) || errors.As(err, &colErr)
}

// LocalRun describes one file-to-file validation run.
type LocalRun struct {
	InputPath       string
	OutputPath      string
	DiagnosticsPath string
	SummaryPath     string

	Config config.Config

	// Lookuper defaults to the geo.admin.ch registry configured in Config.
	Lookuper registry.Lookuper
	Logger   zerolog.Logger
}

// RunLocal reads the input CSV, validates it against the registry, and writes the reports.
// The result is returned so callers can print the summary.
func RunLocal(ctx context.Context, r LocalRun) (*enrichment.Result, error) {
	runID := uuid.NewString()
	log := r.Logger.With().Str("run", runID).Logger()
	runStart := time.Now()

	if r.InputPath == "" {
		return nil, &ConfigError{Err: errors.New("input path is required")}
	}

	aliases, err := loadAliases(r.Config.Columns.AliasesFile)
	if err != nil {
		return nil, err
	}

	lookuper := r.Lookuper
	if lookuper == nil {
		hl, err := registry.NewHTTPLookuper(r.Config.HTTPOptions(version.UserAgent()))
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		lookuper = hl
	}

	cfg := r.Config
	log.Info().
		Str("input", r.InputPath).
		Str("output", r.OutputPath).
		Str("registry", cfg.Registry.BaseURL).
		Int("concurrency", cfg.Registry.Concurrency).
		Bool("sequential", cfg.Registry.Sequential).
		Dur("request_timeout", cfg.Registry.RequestTimeout).
		Int("max_retries", cfg.Registry.MaxRetries).
		Float64("tolerance_m", cfg.Match.ToleranceMeters).
		Int("batch_size", cfg.Pipeline.BatchSize).
		Msg("local run start")

	readStart := time.Now()
	src := &localio.FileSource{Path: r.InputPath}
	table, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("rows", len(table.Rows)).
		Int("columns", len(table.Columns)).
		Str("encoding", src.Encoding).
		Dur("elapsed", time.Since(readStart).Round(time.Millisecond)).
		Msg("input loaded")

	regOpts := cfg.RegistryOptions()
	var lookups atomic.Int64
	regOpts.OnOutcome = func(o registry.Outcome) {
		log.Debug().
			Uint64("egid", o.EGID).
			Stringer("status", o.Status).
			Int("attempts", o.Attempts).
			Int64("lookups_done", lookups.Add(1)).
			Msg("registry lookup settled")
	}

	p, err := enrichment.New(newTracedLookuper(lookuper, log), enrichment.Options{
		Registry:        regOpts,
		ToleranceMeters: cfg.Match.ToleranceMeters,
		BatchSize:       cfg.Pipeline.BatchSize,
		ColumnOverride:  cfg.Columns.Map,
		Aliases:         aliases,
		EnabledRules:    cfg.Pipeline.Rules,
		Progress: func(done, total int) {
			log.Info().Int("processed", done).Int("total", total).Msg("progress")
		},
		Logger: log,
	})
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	res, err := p.Run(ctx, table)
	if err != nil {
		return nil, err
	}

	sink := localio.FileSink{
		EnrichedPath:    r.OutputPath,
		DiagnosticsPath: r.DiagnosticsPath,
		SummaryPath:     r.SummaryPath,
		RunID:           runID,
	}
	// Reports are written even for an incomplete run; the caller's ctx may already be done.
	if err := sink.Store(context.WithoutCancel(ctx), res); err != nil {
		return res, fmt.Errorf("write reports: %w", err)
	}

	log.Info().
		Bool("incomplete", res.Summary.Incomplete).
		Float64("success_rate", res.Summary.SuccessRate).
		Dur("total", time.Since(runStart).Round(time.Millisecond)).
		Msg("local run complete")
	return res, nil
}

// ColumnReport is the outcome of column detection without any lookup.
type ColumnReport struct {
	Columns []string
	// Mapping binds logical fields to input columns.
	Mapping map[columns.Field]string
	Absent  []columns.Field
}

// DetectColumns loads the input header and resolves the column mapping.
func DetectColumns(ctx context.Context, inputPath string, cfg config.Config) (ColumnReport, error) {
	aliases, err := loadAliases(cfg.Columns.AliasesFile)
	if err != nil {
		return ColumnReport{}, err
	}
	src := &localio.FileSource{Path: inputPath}
	table, err := src.Load(ctx)
	if err != nil {
		return ColumnReport{}, err
	}
	m, err := columns.Resolve(table.Columns, cfg.Columns.Map, aliases)
	if err != nil {
		return ColumnReport{}, err
	}
	return ColumnReport{Columns: table.Columns, Mapping: m.Bound(), Absent: m.Absent()}, nil
}

func loadAliases(path string) (columns.AliasTable, error) {
	if path == "" {
		return nil, nil
	}
	t, err := columns.LoadAliasFile(path, columns.DefaultAliases())
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("aliases file: %s", redact.Secrets(err.Error()))}
	}
	return t, nil
}
