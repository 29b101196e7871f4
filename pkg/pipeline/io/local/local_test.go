package local_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/geodatacheck/pkg/enrichment"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/io/local"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

func TestReadTable(t *testing.T) {
	t.Parallel()

	t.Run("comma separated", func(t *testing.T) {
		t.Parallel()
		tbl, enc, err := local.ReadTable(strings.NewReader("EGID,PLZ\n42,8001\n43,3011\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if enc != local.EncodingUTF8 {
			t.Fatalf("encoding = %q", enc)
		}
		if len(tbl.Columns) != 2 || tbl.Columns[0] != "EGID" || tbl.Columns[1] != "PLZ" {
			t.Fatalf("unexpected columns: %#v", tbl.Columns)
		}
		if len(tbl.Rows) != 2 || tbl.Rows[1]["PLZ"] != "3011" {
			t.Fatalf("unexpected rows: %#v", tbl.Rows)
		}
	})

	t.Run("semicolon separated with bom", func(t *testing.T) {
		t.Parallel()
		tbl, enc, err := local.ReadTable(strings.NewReader("\ufeffEGID;Ort;PLZ\n42;Zürich, Kreis 1;8001\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if enc != local.EncodingUTF8BOM {
			t.Fatalf("encoding = %q", enc)
		}
		if tbl.Columns[0] != "EGID" {
			t.Fatalf("bom not stripped: %q", tbl.Columns[0])
		}
		if got := tbl.Rows[0]["Ort"]; got != "Zürich, Kreis 1" {
			t.Fatalf("Ort = %q", got)
		}
	})

	t.Run("windows-1252 fallback", func(t *testing.T) {
		t.Parallel()
		in := []byte("egid;ort\n1;Z\xfcrich\n")
		tbl, enc, err := local.ReadTable(bytes.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if enc != local.EncodingWindows1252 {
			t.Fatalf("encoding = %q", enc)
		}
		if got := tbl.Rows[0]["ort"]; got != "Zürich" {
			t.Fatalf("ort = %q", got)
		}
	})

	t.Run("utf-16 little endian", func(t *testing.T) {
		t.Parallel()
		in := []byte{0xFF, 0xFE}
		for _, r := range "egid\n7\n" {
			in = append(in, byte(r), 0)
		}
		tbl, enc, err := local.ReadTable(bytes.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if enc != local.EncodingUTF16 || tbl.Rows[0]["egid"] != "7" {
			t.Fatalf("enc=%q rows=%#v", enc, tbl.Rows)
		}
	})

	t.Run("ragged rows and blank headers", func(t *testing.T) {
		t.Parallel()
		in := "egid, ,egid\n1\n2,a,b,c\n,,\n"
		tbl, _, err := local.ReadTable(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"egid", "column_2", "column_3"}
		for i, c := range want {
			if tbl.Columns[i] != c {
				t.Fatalf("columns = %#v, want %#v", tbl.Columns, want)
			}
		}
		if len(tbl.Rows) != 2 {
			t.Fatalf("blank line must be skipped, got %d rows", len(tbl.Rows))
		}
		if v, ok := tbl.Rows[0]["column_3"]; !ok || v != "" {
			t.Fatalf("short row not padded: %#v", tbl.Rows[0])
		}
		if tbl.Rows[1]["column_3"] != "b" {
			t.Fatalf("unexpected row: %#v", tbl.Rows[1])
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		_, _, err := local.ReadTable(strings.NewReader(""))
		if !errors.Is(err, local.ErrEmptyTable) {
			t.Fatalf("expected ErrEmptyTable, got %v", err)
		}
	})
}

func TestFileSource_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.csv")
	if err := os.WriteFile(path, []byte("egid\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &local.FileSource{Path: path}
	tbl, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.Rows) != 1 || src.Encoding != local.EncodingUTF8 {
		t.Fatalf("rows=%#v enc=%q", tbl.Rows, src.Encoding)
	}

	if _, err := (&local.FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Load(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func sampleResult() *enrichment.Result {
	return &enrichment.Result{
		Columns: enrichment.OutputColumns([]string{"egid"}),
		Rows: []enrichment.EnrichedRow{
			{Index: 0, Values: map[string]string{"egid": "1", enrichment.ColStatus: "ok"}},
			{Index: 1, Values: map[string]string{"egid": "x", enrichment.ColStatus: "error"}},
		},
		Diagnostics: []rules.Diagnostic{
			{RuleID: rules.IDUnmappedField, Severity: rules.SeverityInfo, RowIndex: rules.RunRow, Column: "canton", Message: "optional field canton is not mapped to any column"},
			{RuleID: rules.IDMalformed, Severity: rules.SeverityError, RowIndex: 1, Column: "buildingId", Value: "x", Message: `building identifier "x" is not a positive integer`},
		},
		Summary: enrichment.Summary{TotalRows: 2, EnrichedRows: 2, PassedRows: 1, Errors: 1, Infos: 1, SuccessRate: 50},
		Mapping: map[string]string{"buildingId": "egid"},
	}
}

func TestWriteEnrichedCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := local.WriteEnrichedCSV(&buf, sampleResult()); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected output: %q", buf.String())
	}
	if want := strings.Join(enrichment.OutputColumns([]string{"egid"}), ","); lines[0] != want {
		t.Fatalf("header = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "1,") || !strings.HasSuffix(lines[1], ",ok") {
		t.Fatalf("row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "x,") || !strings.HasSuffix(lines[2], ",error") {
		t.Fatalf("row = %q", lines[2])
	}

	bad := sampleResult()
	bad.Columns = []string{"egid"}
	if err := local.WriteEnrichedCSV(&bytes.Buffer{}, bad); err == nil {
		t.Fatalf("expected contract error for missing enriched columns")
	}
}

func TestWriteDiagnosticsCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := local.WriteDiagnosticsCSV(&buf, sampleResult().Diagnostics); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected output: %q", buf.String())
	}
	if lines[0] != "row,rule_id,severity,column,value,message" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], ",R-RUN-01,Info,canton,,") {
		t.Fatalf("run-level line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2,R-GWR-02,Error,buildingId,x,") {
		t.Fatalf("row line = %q", lines[2])
	}
}

func TestFileSink_Store(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	sink := local.FileSink{
		EnrichedPath:    filepath.Join(dir, "enriched.csv"),
		DiagnosticsPath: filepath.Join(dir, "diagnostics.csv"),
		SummaryPath:     filepath.Join(dir, "summary.json"),
		RunID:           "run-1",
	}
	if err := sink.Store(context.Background(), sampleResult()); err != nil {
		t.Fatalf("store: %v", err)
	}

	raw, err := os.ReadFile(sink.SummaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var doc struct {
		RunID   string             `json:"runId"`
		Summary enrichment.Summary `json:"summary"`
		Mapping map[string]string  `json:"mapping"`
		Outputs []struct {
			Name string `json:"name"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if doc.RunID != "run-1" || doc.Summary.PassedRows != 1 || doc.Mapping["buildingId"] != "egid" || len(doc.Outputs) != 2 {
		t.Fatalf("unexpected summary: %+v", doc)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("temporary files left behind: %v", entries)
	}

	if err := (local.FileSink{}).Store(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil result")
	}
}
