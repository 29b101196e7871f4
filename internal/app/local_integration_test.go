package app_test

import (
	"context"
	"encoding/csv"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shpitdev/geodatacheck/internal/app"
	"github.com/shpitdev/geodatacheck/internal/config"
	"github.com/shpitdev/geodatacheck/pkg/mockregistry"
)

const registryFixture = `egid,gkode,gkodn,gdekt,ggdename,dplz4,dplzname,strname,deinr
190112,2683000,1247000,ZH,Zürich,8001,Zürich,Bahnhofstrasse,1
245,2600000,1200000,BE,Bern,3011,Bern,Bundesplatz,3
`

func startRegistry(t *testing.T) (*mockregistry.Server, config.Config) {
	t.Helper()

	buildings, err := mockregistry.LoadCSV(strings.NewReader(registryFixture))
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	srv := mockregistry.New(zerolog.Nop())
	srv.Add(buildings...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Registry.BaseURL = ts.URL
	cfg.Registry.RetryBackoff = 0
	return srv, cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return recs
}

func TestRunLocal_EndToEndAgainstMockRegistry(t *testing.T) {
	t.Parallel()

	srv, cfg := startRegistry(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "buildings.csv")
	if err := os.WriteFile(input, []byte(
		"EGID;Strasse;Hausnummer;PLZ;Ort;Kanton\n"+
			"190112;Bahnhofstrasse;1;8001;Zürich;ZH\n"+
			"999;Nirgendweg;5;8000;Zürich;ZH\n"+
			"abc;Bundesplatz;3;3011;Bern;BE\n"+
			"245;Bundesplatz;4;3011;Bern;BE\n",
	), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	run := app.LocalRun{
		InputPath:       input,
		OutputPath:      filepath.Join(dir, "out", "enriched.csv"),
		DiagnosticsPath: filepath.Join(dir, "out", "diagnostics.csv"),
		SummaryPath:     filepath.Join(dir, "out", "summary.json"),
		Config:          cfg,
		Logger:          zerolog.Nop(),
	}
	res, err := app.RunLocal(context.Background(), run)
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
	if res.Summary.TotalRows != 4 || res.Summary.PassedRows != 2 || res.Summary.Incomplete {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}
	if got := srv.Requests(); got != 3 {
		t.Fatalf("expected 3 registry requests (malformed id is never sent), got %d", got)
	}

	enriched := readCSV(t, run.OutputPath)
	if len(enriched) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(enriched))
	}
	header := enriched[0]
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %q in %v", name, header)
		return -1
	}
	label := col("match_label")
	for i, want := range []string{"Match", "NotFound", "NotFound", "Partial"} {
		if got := enriched[i+1][label]; got != want {
			t.Fatalf("row %d label = %q, want %q", i, got, want)
		}
	}
	if got := enriched[1][col("gwr_street")]; got != "Bahnhofstrasse" {
		t.Fatalf("gwr_street = %q", got)
	}

	diags := readCSV(t, run.DiagnosticsPath)
	var ids []string
	for _, d := range diags[1:] {
		ids = append(ids, d[0]+":"+d[1])
	}
	joined := strings.Join(ids, ",")
	for _, want := range []string{":R-RUN-01", "2:R-GWR-07", "3:R-GWR-02", "4:R-GWR-11", "4:R-GWR-15"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("diagnostics %s missing %s", joined, want)
		}
	}

	if _, err := os.Stat(run.SummaryPath); err != nil {
		t.Fatalf("summary not written: %v", err)
	}
}

func TestRunLocal_ConfigErrors(t *testing.T) {
	t.Parallel()

	_, cfg := startRegistry(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(input, []byte("strasse,plz\nBahnhofstrasse,8001\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	_, err := app.RunLocal(context.Background(), app.LocalRun{InputPath: input, Config: cfg, Logger: zerolog.Nop()})
	if !app.IsConfigError(err) {
		t.Fatalf("missing building id column must be a config error, got %v", err)
	}

	cfg.Columns.AliasesFile = filepath.Join(dir, "missing.yaml")
	_, err = app.RunLocal(context.Background(), app.LocalRun{InputPath: input, Config: cfg, Logger: zerolog.Nop()})
	if !app.IsConfigError(err) {
		t.Fatalf("missing aliases file must be a config error, got %v", err)
	}

	_, err = app.RunLocal(context.Background(), app.LocalRun{InputPath: filepath.Join(dir, "nope.csv"), Config: config.Default(), Logger: zerolog.Nop()})
	if err == nil || app.IsConfigError(err) {
		t.Fatalf("missing input file is a run failure, got %v", err)
	}
}

func TestDetectColumns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(input, []byte("Gebäude,EGID,lat,lon\n1,2,47.3,8.5\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	cfg := config.Default()
	cfg.Columns.Map = map[string]string{"internalId": "Gebäude"}

	rep, err := app.DetectColumns(context.Background(), input, cfg)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if rep.Mapping["buildingId"] != "EGID" || rep.Mapping["internalId"] != "Gebäude" || rep.Mapping["latitude"] != "lat" {
		t.Fatalf("unexpected mapping: %v", rep.Mapping)
	}
	if len(rep.Absent) == 0 {
		t.Fatalf("expected absent fields")
	}
}
