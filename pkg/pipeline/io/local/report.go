package local

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shpitdev/geodatacheck/pkg/enrichment"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/schema"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

// DiagnosticsContract is the schema of the diagnostics report.
var DiagnosticsContract = schema.Contract{Name: "diagnostics", Fields: []schema.Field{
	{Name: "row", Type: schema.TypeInteger, Nullable: true},
	{Name: "rule_id", Type: schema.TypeString},
	{Name: "severity", Type: schema.TypeString},
	{Name: "column", Type: schema.TypeString, Nullable: true},
	{Name: "value", Type: schema.TypeString, Nullable: true},
	{Name: "message", Type: schema.TypeString},
}}

// WriteEnrichedCSV writes one line per enriched row in res.Columns order.
func WriteEnrichedCSV(w io.Writer, res *enrichment.Result) error {
	if err := enrichment.EnrichedContract().Check(res.Columns); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			rec[i] = row.Values[col]
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", row.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiagnosticsCSV writes diagnostics in order. Row numbers are 1-based data rows;
// run-level diagnostics have an empty row cell.
func WriteDiagnosticsCSV(w io.Writer, diags []rules.Diagnostic) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DiagnosticsContract.Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, d := range diags {
		row := ""
		if d.RowIndex != rules.RunRow {
			row = strconv.Itoa(d.RowIndex + 1)
		}
		if err := cw.Write([]string{row, d.RuleID, string(d.Severity), d.Column, d.Value, d.Message}); err != nil {
			return fmt.Errorf("write diagnostic %s: %w", d.RuleID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// summaryDocument is the JSON summary report.
type summaryDocument struct {
	RunID   string             `json:"runId,omitempty"`
	Summary enrichment.Summary `json:"summary"`
	Mapping map[string]string  `json:"mapping"`
	Outputs []schema.Contract  `json:"outputs"`
}

// WriteSummaryJSON writes the run summary and the column mapping as indented JSON.
func WriteSummaryJSON(w io.Writer, runID string, res *enrichment.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaryDocument{
		RunID:   runID,
		Summary: res.Summary,
		Mapping: res.Mapping,
		Outputs: []schema.Contract{enrichment.EnrichedContract(), DiagnosticsContract},
	})
}

// FileSink stores a run's reports as files. Empty paths are skipped.
type FileSink struct {
	EnrichedPath    string
	DiagnosticsPath string
	SummaryPath     string
	RunID           string
}

// Store implements core.ReportSink. Each file is written to a temporary sibling and
// renamed into place, so a failed run never leaves a truncated report.
func (s FileSink) Store(ctx context.Context, res *enrichment.Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	writers := []struct {
		path  string
		write func(io.Writer) error
	}{
		{s.EnrichedPath, func(w io.Writer) error { return WriteEnrichedCSV(w, res) }},
		{s.DiagnosticsPath, func(w io.Writer) error { return WriteDiagnosticsCSV(w, res.Diagnostics) }},
		{s.SummaryPath, func(w io.Writer) error { return WriteSummaryJSON(w, s.RunID, res) }},
	}
	for _, wr := range writers {
		if wr.path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFile(wr.path, wr.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
