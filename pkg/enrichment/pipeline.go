package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shpitdev/geodatacheck/pkg/columns"
	"github.com/shpitdev/geodatacheck/pkg/match"
	"github.com/shpitdev/geodatacheck/pkg/registry"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

// DefaultBatchSize is the number of rows looked up between progress reports.
const DefaultBatchSize = 100

// ProgressFunc is called after each batch with the rows enriched so far.
type ProgressFunc func(rowsProcessed, totalRows int)

// Options configure a Pipeline.
type Options struct {
	Registry registry.Options

	// ToleranceMeters is the coordinate agreement threshold; <= 0 means 50 m.
	ToleranceMeters float64
	// BatchSize is the number of rows per lookup batch; <= 0 means DefaultBatchSize.
	BatchSize int

	// ColumnOverride maps logical field names to input column names.
	ColumnOverride map[string]string
	// Aliases replaces the built-in alias table when non-nil.
	Aliases columns.AliasTable
	// EnabledRules restricts the rule catalogue; empty enables every rule.
	EnabledRules []string

	Progress ProgressFunc
	Logger   zerolog.Logger
}

// Pipeline validates tables against the registry. It is safe to reuse across runs;
// each Run gets its own run state and registry client.
type Pipeline struct {
	lookuper registry.Lookuper
	engine   *rules.Engine
	opts     Options
}

// New builds a pipeline around l.
func New(l registry.Lookuper, opts Options) (*Pipeline, error) {
	if l == nil {
		return nil, errors.New("registry lookuper is required")
	}
	engine, err := rules.NewEngine(opts.EnabledRules...)
	if err != nil {
		return nil, fmt.Errorf("enabled rules: %w", err)
	}
	if opts.ToleranceMeters <= 0 {
		opts.ToleranceMeters = match.DefaultToleranceMeters
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Pipeline{lookuper: l, engine: engine, opts: opts}, nil
}

// Run validates t.
//
// A column configuration error aborts the run before any row is touched and is returned
// as a *columns.ConfigError. Row and lookup faults never abort: they become diagnostics.
// When ctx is cancelled Run returns the rows enriched so far with an incomplete-run
// diagnostic and a nil error.
func (p *Pipeline) Run(ctx context.Context, t Table) (*Result, error) {
	start := time.Now()
	log := p.opts.Logger

	mapping, err := columns.Resolve(t.Columns, p.opts.ColumnOverride, p.opts.Aliases)
	if err != nil {
		log.Error().Err(err).Msg("column mapping failed")
		return nil, err
	}
	bound := mapping.Bound()
	log.Debug().Interface("mapping", bound).Msg("columns resolved")

	total := len(t.Rows)
	state := rules.NewRunState()
	records := make([]Record, total)
	pre := make([]rules.PreResult, total)
	preDiags := make([][]rules.Diagnostic, total)
	for i, values := range t.Rows {
		records[i] = buildRecord(i, values, mapping)
		preDiags[i], pre[i] = p.engine.Pre(state, records[i].raw)
	}

	regOpts := p.opts.Registry
	regOpts.Logger = log
	client := registry.NewClient(p.lookuper, regOpts)

	outcomes := make(map[uint64]registry.Outcome)
	rows := make([]EnrichedRow, 0, total)
	rowDiags := make([]rules.Diagnostic, 0, total)
	agg := newAggregator(total)

	var fallbackReason string
	var cancelErr error

batches:
	for lo := 0; lo < total; lo += p.opts.BatchSize {
		hi := min(lo+p.opts.BatchSize, total)
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}

		ids := make([]uint64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			if !pre[i].Eligible {
				continue
			}
			if o, ok := outcomes[pre[i].ID]; ok && o.Done {
				continue
			}
			ids = append(ids, pre[i].ID)
		}

		res, err := client.FetchMany(ctx, ids)
		if res != nil {
			for id, o := range res.Outcomes {
				if o.Done {
					outcomes[id] = o
				}
			}
			if res.Fallback && fallbackReason == "" {
				fallbackReason = res.FallbackReason
			}
		}
		if err != nil {
			cancelErr = err
		}

		for i := lo; i < hi; i++ {
			o, looked := outcomes[pre[i].ID]
			if pre[i].Eligible && (!looked || !o.Done) {
				// First row whose lookup did not finish: the enriched prefix ends here.
				break batches
			}
			row, diags := p.enrich(records[i], t.Rows[i], pre[i], o, mapping, preDiags[i])
			agg.row(row)
			rows = append(rows, row)
			rowDiags = append(rowDiags, diags...)
		}

		log.Debug().
			Int("batch_start", lo).
			Int("batch_rows", hi-lo).
			Int("lookups", len(ids)).
			Bool("sequential", client.Sequential()).
			Msg("batch enriched")
		if p.opts.Progress != nil {
			p.opts.Progress(len(rows), total)
		}
		if cancelErr != nil {
			break
		}
	}

	incomplete := len(rows) < total
	if incomplete && cancelErr == nil {
		cancelErr = ctx.Err()
	}

	var diags []rules.Diagnostic
	diags = append(diags, p.engine.UnmappedFields(unmappedFields(mapping))...)
	if fallbackReason != "" {
		diags = append(diags, p.engine.Fallback(fallbackReason)...)
	}
	if incomplete {
		diags = append(diags, p.engine.Incomplete(len(rows), total, cancelErr)...)
	}
	diags = append(diags, rowDiags...)
	agg.diagnostics(diags)

	summary := agg.finish()
	summary.Lookups = len(outcomes)
	summary.Fallback = fallbackReason != ""
	summary.Incomplete = incomplete

	ev := log.Info()
	if incomplete {
		ev = log.Warn().AnErr("cause", cancelErr)
	}
	ev.Int("rows", total).
		Int("enriched", summary.EnrichedRows).
		Int("passed", summary.PassedRows).
		Int("errors", summary.Errors).
		Int("warnings", summary.Warnings).
		Int("lookups", summary.Lookups).
		Int("fetch_errors", summary.FetchErrors).
		Bool("fallback", summary.Fallback).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")

	mapped := make(map[string]string, len(bound))
	for f, c := range bound {
		mapped[string(f)] = c
	}
	return &Result{
		Columns:     OutputColumns(t.Columns),
		Rows:        rows,
		Diagnostics: diags,
		Summary:     summary,
		Mapping:     mapped,
	}, nil
}

func (p *Pipeline) enrich(
	rec Record,
	values map[string]string,
	pre rules.PreResult,
	o registry.Outcome,
	m columns.Mapping,
	preDiags []rules.Diagnostic,
) (EnrichedRow, []rules.Diagnostic) {
	// Ineligible identifiers are never sent and classify as NotFound.
	row := EnrichedRow{Index: rec.Row, Record: rec, Lookup: LookupSkipped, Match: match.NotFound()}
	post := rules.PostInput{
		Row:             rec.Row,
		ID:              pre.ID,
		Status:          rules.LookupSkipped,
		ToleranceMeters: p.opts.ToleranceMeters,
		MissingAddress:  missingAddress(rec, m),
	}

	if pre.Eligible {
		switch o.Status {
		case registry.StatusFound:
			entry := o.Entry
			row.Lookup, row.Entry = LookupFound, &entry
			row.Match = match.Score(inputAddress(rec), registryAddress(entry), p.opts.ToleranceMeters)
			post.Status = rules.LookupFound
		case registry.StatusNotFound:
			row.Lookup = LookupNotFound
			row.Match = match.NotFound()
			post.Status = rules.LookupNotFound
		default:
			row.Lookup = LookupFailed
			post.Status = rules.LookupFailed
			post.Err = o.Err
		}
	}
	post.Match = row.Match

	diags := append(append([]rules.Diagnostic(nil), preDiags...), p.engine.Post(post)...)
	countSeverities(&row, diags)
	row.Values = outputValues(values, row)
	return row, diags
}

func inputAddress(r Record) match.Address {
	return match.Address{
		Latitude:    r.Point.Latitude,
		Longitude:   r.Point.Longitude,
		Canton:      r.Canton,
		PostalCode:  r.PostalCode,
		City:        r.City,
		Street:      r.Street,
		HouseNumber: r.HouseNumber,
	}
}

func registryAddress(e registry.Entry) match.Address {
	return match.Address{
		Latitude:    e.Latitude,
		Longitude:   e.Longitude,
		Canton:      e.Canton,
		PostalCode:  e.PostalCode,
		City:        e.City,
		Street:      e.Street,
		HouseNumber: e.HouseNumber,
	}
}
