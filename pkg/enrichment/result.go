package enrichment

import (
	"strconv"

	"github.com/shpitdev/geodatacheck/pkg/match"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/schema"
	"github.com/shpitdev/geodatacheck/pkg/registry"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

// LookupStatus is how a row's registry lookup ended.
type LookupStatus string

const (
	LookupFound    LookupStatus = "found"
	LookupNotFound LookupStatus = "not_found"
	LookupFailed   LookupStatus = "fetch_error"
	// LookupSkipped rows had no valid identifier and were never sent.
	LookupSkipped LookupStatus = "skipped"
)

// Row status values, worst severity first.
const (
	StatusError   = "error"
	StatusWarning = "warning"
	StatusOK      = "ok"
)

// Columns appended to the input columns in enriched output.
const (
	ColGWREGID        = "gwr_egid"
	ColGWRLatitude    = "gwr_latitude"
	ColGWRLongitude   = "gwr_longitude"
	ColGWRCanton      = "gwr_canton"
	ColGWRPostalCode  = "gwr_postal_code"
	ColGWRCity        = "gwr_city"
	ColGWRStreet      = "gwr_street"
	ColGWRHouseNumber = "gwr_house_number"
	ColDistance       = "distance_m"
	ColScore          = "match_score"
	ColLabel          = "match_label"
	ColLookup         = "lookup_status"
	ColErrors         = "errors"
	ColWarnings       = "warnings"
	ColStatus         = "status"
)

var enrichedColumns = EnrichedContract().Names()

// EnrichedContract is the schema of the columns a run appends to its input.
func EnrichedContract() schema.Contract {
	return schema.Contract{Name: "enriched", Fields: []schema.Field{
		{Name: ColGWREGID, Type: schema.TypeInteger, Nullable: true},
		{Name: ColGWRLatitude, Type: schema.TypeNumber, Nullable: true},
		{Name: ColGWRLongitude, Type: schema.TypeNumber, Nullable: true},
		{Name: ColGWRCanton, Type: schema.TypeString, Nullable: true},
		{Name: ColGWRPostalCode, Type: schema.TypeString, Nullable: true},
		{Name: ColGWRCity, Type: schema.TypeString, Nullable: true},
		{Name: ColGWRStreet, Type: schema.TypeString, Nullable: true},
		{Name: ColGWRHouseNumber, Type: schema.TypeString, Nullable: true},
		{Name: ColDistance, Type: schema.TypeNumber, Nullable: true},
		{Name: ColScore, Type: schema.TypeNumber, Nullable: true},
		{Name: ColLabel, Type: schema.TypeString, Nullable: true},
		{Name: ColLookup, Type: schema.TypeString},
		{Name: ColErrors, Type: schema.TypeInteger},
		{Name: ColWarnings, Type: schema.TypeInteger},
		{Name: ColStatus, Type: schema.TypeString},
	}}
}

// OutputColumns returns the enriched column order for an input with the given columns.
// Input columns that collide with an enriched column name are kept once, in input position.
func OutputColumns(input []string) []string {
	out := append([]string(nil), input...)
	seen := make(map[string]bool, len(input))
	for _, c := range input {
		seen[c] = true
	}
	for _, c := range enrichedColumns {
		if !seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// EnrichedRow is one output row.
type EnrichedRow struct {
	Index  int
	Record Record
	Lookup LookupStatus
	// Entry is set for LookupFound.
	Entry *registry.Entry
	// Match is NotFound for skipped lookups and zero for failed ones.
	Match    match.Result
	Errors   int
	Warnings int
	Infos    int
	Status   string
	// Values holds the input cells plus the enriched columns.
	Values map[string]string
}

// Result is everything a run produced.
type Result struct {
	Columns     []string
	Rows        []EnrichedRow
	Diagnostics []rules.Diagnostic
	Summary     Summary
	// Mapping is the logical field to input column binding the run used.
	Mapping map[string]string
}

// Summary aggregates a run.
type Summary struct {
	TotalRows    int `json:"totalRows"`
	EnrichedRows int `json:"enrichedRows"`
	PassedRows   int `json:"passedRows"`

	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`

	Labels map[match.Label]int `json:"labels"`

	Lookups        int  `json:"lookups"`
	FetchErrors    int  `json:"fetchErrors"`
	SkippedLookups int  `json:"skippedLookups"`
	Fallback       bool `json:"fallback"`
	Incomplete     bool `json:"incomplete"`

	// SuccessRate is PassedRows as a percentage of TotalRows.
	SuccessRate float64 `json:"successRate"`
}

// aggregator accumulates the summary as rows are finalized.
type aggregator struct {
	s Summary
}

func newAggregator(total int) *aggregator {
	return &aggregator{s: Summary{TotalRows: total, Labels: make(map[match.Label]int)}}
}

func (a *aggregator) diagnostics(diags []rules.Diagnostic) {
	for _, d := range diags {
		switch d.Severity {
		case rules.SeverityError:
			a.s.Errors++
		case rules.SeverityWarning:
			a.s.Warnings++
		case rules.SeverityInfo:
			a.s.Infos++
		}
	}
}

func (a *aggregator) row(r EnrichedRow) {
	a.s.EnrichedRows++
	if r.Errors == 0 {
		a.s.PassedRows++
	}
	switch r.Lookup {
	case LookupFailed:
		a.s.FetchErrors++
	case LookupSkipped:
		a.s.SkippedLookups++
	}
	if r.Match.Label != "" {
		a.s.Labels[r.Match.Label]++
	}
}

func (a *aggregator) finish() Summary {
	if a.s.TotalRows > 0 {
		a.s.SuccessRate = 100 * float64(a.s.PassedRows) / float64(a.s.TotalRows)
	}
	return a.s
}

// countSeverities tallies a row's diagnostics and derives its status.
func countSeverities(row *EnrichedRow, diags []rules.Diagnostic) {
	for _, d := range diags {
		switch d.Severity {
		case rules.SeverityError:
			row.Errors++
		case rules.SeverityWarning:
			row.Warnings++
		case rules.SeverityInfo:
			row.Infos++
		}
	}
	switch {
	case row.Errors > 0:
		row.Status = StatusError
	case row.Warnings > 0:
		row.Status = StatusWarning
	default:
		row.Status = StatusOK
	}
}

func outputValues(input map[string]string, r EnrichedRow) map[string]string {
	out := make(map[string]string, len(input)+len(enrichedColumns))
	for k, v := range input {
		out[k] = v
	}
	set := func(col, v string) {
		if _, taken := input[col]; !taken {
			out[col] = v
		}
	}

	if e := r.Entry; e != nil {
		set(ColGWREGID, strconv.FormatUint(e.EGID, 10))
		if e.HasCoordinates() {
			set(ColGWRLatitude, strconv.FormatFloat(e.Latitude, 'f', 6, 64))
			set(ColGWRLongitude, strconv.FormatFloat(e.Longitude, 'f', 6, 64))
		}
		set(ColGWRCanton, e.Canton)
		set(ColGWRPostalCode, e.PostalCode)
		set(ColGWRCity, e.City)
		set(ColGWRStreet, e.Street)
		set(ColGWRHouseNumber, e.HouseNumber)
	}
	if r.Lookup == LookupFound && !isNaN(r.Match.DistanceMeters) {
		set(ColDistance, strconv.FormatFloat(r.Match.DistanceMeters, 'f', 1, 64))
	}
	if r.Match.Score != nil {
		set(ColScore, strconv.FormatFloat(*r.Match.Score, 'f', 1, 64))
	}
	set(ColLabel, string(r.Match.Label))
	set(ColLookup, string(r.Lookup))
	set(ColErrors, strconv.Itoa(r.Errors))
	set(ColWarnings, strconv.Itoa(r.Warnings))
	set(ColStatus, r.Status)
	return out
}
