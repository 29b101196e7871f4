package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shpitdev/geodatacheck/pkg/geo"
	"github.com/shpitdev/geodatacheck/pkg/match"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/redact"
)

// Engine evaluates the enabled part of the catalogue.
type Engine struct {
	enabled map[string]bool
}

// NewEngine enables the given rule ids, or the whole catalogue when none are given.
// Mandatory rules are always enabled.
func NewEngine(ids ...string) (*Engine, error) {
	e := &Engine{enabled: make(map[string]bool, len(catalogue))}
	for _, r := range catalogue {
		if r.Mandatory || len(ids) == 0 {
			e.enabled[r.ID] = true
		}
	}
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("unknown rule id %q", id)
		}
		e.enabled[id] = true
	}
	return e, nil
}

// Enabled reports whether rule id fires in this engine.
func (e *Engine) Enabled(id string) bool {
	return e.enabled[id]
}

// RunState is the run-scoped memory of the pre-lookup phase. One per run.
type RunState struct {
	firstRow     map[uint64]int
	firstAddress map[string]int
}

// NewRunState returns empty run state.
func NewRunState() *RunState {
	return &RunState{firstRow: make(map[uint64]int), firstAddress: make(map[string]int)}
}

// PreInput is the raw record as seen by pre-lookup rules.
type PreInput struct {
	Row        int
	BuildingID string
	PostalCode string
	Canton     string
	Easting    string
	Northing   string
	Latitude   string
	Longitude  string
	City       string
	Street     string

	// LV95Mapped and WGS84Mapped report whether both columns of the pair exist in the input.
	LV95Mapped  bool
	WGS84Mapped bool
}

// PreResult is the parsed identifier for the lookup phase.
type PreResult struct {
	ID uint64
	// Eligible is false when the identifier must not be sent to the registry.
	Eligible bool
	// DuplicateOf is the first row with the same identifier, or -1.
	DuplicateOf int
}

// Pre evaluates pre-lookup rules for one row and records its identifier in state.
// Rows must be passed in input order.
func (e *Engine) Pre(state *RunState, in PreInput) ([]Diagnostic, PreResult) {
	var out []Diagnostic
	res := PreResult{DuplicateOf: -1}

	id, err := ParseBuildingID(in.BuildingID)
	switch {
	case errors.Is(err, ErrMissingID):
		out = e.add(out, newDiagnostic(IDMissing, in.Row, "buildingId", "", "building identifier is missing"))
	case err != nil:
		out = e.add(out, newDiagnostic(IDMalformed, in.Row, "buildingId", in.BuildingID,
			"building identifier %q is not a positive integer", strings.TrimSpace(in.BuildingID)))
	default:
		res.ID, res.Eligible = id, true
		if first, seen := state.firstRow[id]; seen {
			res.DuplicateOf = first
			out = e.add(out, newDiagnostic(IDDuplicate, in.Row, "buildingId", in.BuildingID,
				"building identifier %d at row %d already appears at row %d", id, in.Row, first))
		} else {
			state.firstRow[id] = in.Row
		}
	}

	if d, ok := checkPostalCode(in); ok {
		out = e.add(out, d)
	}
	if d, ok := checkCanton(in); ok {
		out = e.add(out, d)
	}
	if d, ok := checkInputCoordinates(in); ok {
		out = e.add(out, d)
	}
	if d, ok := checkStreet(in); ok {
		out = e.add(out, d)
	}
	for _, d := range checkCoordinatePairs(in) {
		out = e.add(out, d)
	}
	if d, ok := checkDuplicateAddress(state, in); ok {
		out = e.add(out, d)
	}
	return out, res
}

func checkStreet(in PreInput) (Diagnostic, bool) {
	street := strings.TrimSpace(in.Street)
	switch {
	case street == "":
		return Diagnostic{}, false
	case isDigits(street):
		return newDiagnostic(IDStreetFormat, in.Row, "street", in.Street, "street %q is only numeric", street), true
	case utf8.RuneCountInString(street) < 3:
		return newDiagnostic(IDStreetFormat, in.Row, "street", in.Street, "street %q is very short", street), true
	}
	return Diagnostic{}, false
}

// checkCoordinatePairs reports a pair with one half empty. Pairs lacking a column are skipped.
func checkCoordinatePairs(in PreInput) []Diagnostic {
	var out []Diagnostic
	half := func(mapped bool, a, b, nameA, nameB string) {
		if !mapped {
			return
		}
		emptyA, emptyB := strings.TrimSpace(a) == "", strings.TrimSpace(b) == ""
		switch {
		case emptyA && !emptyB:
			out = append(out, newDiagnostic(IDCoordinatePair, in.Row, nameA, "", "%s missing (%s present)", nameA, nameB))
		case emptyB && !emptyA:
			out = append(out, newDiagnostic(IDCoordinatePair, in.Row, nameB, "", "%s missing (%s present)", nameB, nameA))
		}
	}
	half(in.LV95Mapped, in.Easting, in.Northing, "easting", "northing")
	half(in.WGS84Mapped, in.Latitude, in.Longitude, "latitude", "longitude")
	return out
}

// checkDuplicateAddress keys rows by postal code, city and street. Rows without a postal
// code or city are not keyed.
func checkDuplicateAddress(state *RunState, in PreInput) (Diagnostic, bool) {
	plz := match.NormalizePostalCode(in.PostalCode)
	city := match.Normalize(in.City)
	if plz == "" || city == "" {
		return Diagnostic{}, false
	}
	key := plz + "|" + city + "|" + match.Normalize(in.Street)
	first, seen := state.firstAddress[key]
	if !seen {
		state.firstAddress[key] = in.Row
		return Diagnostic{}, false
	}
	value := strings.Join(nonEmpty(plz, strings.TrimSpace(in.City), strings.TrimSpace(in.Street)), ", ")
	return newDiagnostic(IDDuplicateAddress, in.Row, "address", value,
		"address %s at row %d already appears at row %d", value, in.Row, first), true
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkPostalCode(in PreInput) (Diagnostic, bool) {
	if strings.TrimSpace(in.PostalCode) == "" {
		return Diagnostic{}, false
	}
	plz := match.NormalizePostalCode(in.PostalCode)
	var reason string
	switch {
	case !isDigits(plz):
		reason = "is not numeric"
	case len(plz) != 4:
		reason = "does not have four digits"
	default:
		if v, _ := strconv.Atoi(plz); v < 1000 {
			reason = "is outside 1000-9999"
		}
	}
	if reason == "" {
		return Diagnostic{}, false
	}
	return newDiagnostic(IDPostalCode, in.Row, "postalCode", in.PostalCode,
		"postal code %q %s", strings.TrimSpace(in.PostalCode), reason), true
}

func checkCanton(in PreInput) (Diagnostic, bool) {
	if strings.TrimSpace(in.Canton) == "" || IsCanton(in.Canton) {
		return Diagnostic{}, false
	}
	return newDiagnostic(IDCanton, in.Row, "canton", in.Canton,
		"canton %q is not a Swiss canton code", strings.TrimSpace(in.Canton)), true
}

// inputPair picks the coordinate pair a row provides: LV95 columns first, then lon/lat.
func inputPair(in PreInput) (column, first, second string, ok bool) {
	if strings.TrimSpace(in.Easting) != "" && strings.TrimSpace(in.Northing) != "" {
		return "easting/northing", in.Easting, in.Northing, true
	}
	if strings.TrimSpace(in.Longitude) != "" && strings.TrimSpace(in.Latitude) != "" {
		return "longitude/latitude", in.Longitude, in.Latitude, true
	}
	return "", "", "", false
}

func checkInputCoordinates(in PreInput) (Diagnostic, bool) {
	column, a, b, ok := inputPair(in)
	if !ok {
		return Diagnostic{}, false
	}
	value := strings.TrimSpace(a) + ", " + strings.TrimSpace(b)
	first, okA := geo.ParseCoordinate(a)
	second, okB := geo.ParseCoordinate(b)
	if !okA || !okB {
		return newDiagnostic(IDInputCoordinates, in.Row, column, value, "coordinates %s are not numeric", value), true
	}
	sys := geo.Detect(first, second)
	if sys == geo.SystemUnknown {
		return newDiagnostic(IDInputCoordinates, in.Row, column, value, "coordinate system of %s not recognised", value), true
	}
	if !geo.InSwitzerland(sys, first, second) {
		return newDiagnostic(IDInputCoordinates, in.Row, column, value, "%s coordinates %s lie outside Switzerland", sys, value), true
	}
	return Diagnostic{}, false
}

// InputPoint resolves the coordinates a row provides to WGS84, using the same column
// preference as the pre-lookup coordinate rule.
func InputPoint(in PreInput) geo.Point {
	_, a, b, ok := inputPair(in)
	if !ok {
		return geo.NoPoint()
	}
	first, okA := geo.ParseCoordinate(a)
	second, okB := geo.ParseCoordinate(b)
	if !okA || !okB {
		return geo.NoPoint()
	}
	return geo.Resolve(first, second)
}

// LookupStatus is the registry outcome of one row.
type LookupStatus int

const (
	// LookupSkipped means the identifier was not eligible and never sent.
	LookupSkipped LookupStatus = iota
	LookupFound
	LookupNotFound
	LookupFailed
)

// PostInput carries what post-lookup rules need for one row.
type PostInput struct {
	Row    int
	ID     uint64
	Status LookupStatus
	// Err is set for LookupFailed.
	Err             error
	Match           match.Result
	ToleranceMeters float64
	// MissingAddress lists mapped address fields that are empty in this row.
	MissingAddress []string
}

// Post evaluates post-lookup rules for one row.
func (e *Engine) Post(in PostInput) []Diagnostic {
	var out []Diagnostic

	switch in.Status {
	case LookupNotFound:
		out = e.add(out, newDiagnostic(IDNotFound, in.Row, "buildingId", strconv.FormatUint(in.ID, 10),
			"building %d not found in registry", in.ID))
	case LookupFailed:
		reason := "unknown error"
		if in.Err != nil {
			reason = redact.Truncate(in.Err.Error(), 300)
		}
		out = e.add(out, newDiagnostic(IDLookupFailed, in.Row, "buildingId", strconv.FormatUint(in.ID, 10),
			"registry lookup for building %d failed: %s", in.ID, reason))
	}

	if len(in.MissingAddress) > 0 {
		out = e.add(out, newDiagnostic(IDAddress, in.Row, strings.Join(in.MissingAddress, "/"), "",
			"address incomplete: missing %s", strings.Join(in.MissingAddress, ", ")))
	}

	if in.Status != LookupFound {
		return out
	}

	tolerance := in.ToleranceMeters
	if tolerance <= 0 {
		tolerance = match.DefaultToleranceMeters
	}
	if d := in.Match.DistanceMeters; !math.IsNaN(d) && !geo.WithinTolerance(d, tolerance) {
		out = e.add(out, newDiagnostic(IDDeviation, in.Row, "coordinates", strconv.FormatFloat(d, 'f', 1, 64),
			"coordinates deviate %.1f m from registry (tolerance %.0f m)", d, tolerance))
	}

	differing := fieldNames(in.Match.Differing())
	switch in.Match.Label {
	case match.LabelPartial:
		out = e.add(out, newDiagnostic(IDPartial, in.Row, strings.Join(differing, "/"), scoreText(in.Match),
			"partial match (score %s), differing: %s", scoreText(in.Match), strings.Join(differing, ", ")))
	case match.LabelMismatch:
		out = e.add(out, newDiagnostic(IDMismatch, in.Row, strings.Join(differing, "/"), scoreText(in.Match),
			"mismatch (score %s), differing: %s", scoreText(in.Match), strings.Join(differing, ", ")))
	}
	return out
}

// UnmappedFields reports optional fields that no input column provides.
func (e *Engine) UnmappedFields(fields []string) []Diagnostic {
	var out []Diagnostic
	for _, f := range fields {
		out = e.add(out, newDiagnostic(IDUnmappedField, RunRow, f, "", "optional field %s is not mapped to any column", f))
	}
	return out
}

// Fallback reports that lookups ran sequentially.
func (e *Engine) Fallback(reason string) []Diagnostic {
	return e.add(nil, newDiagnostic(IDFallback, RunRow, "", "", "registry lookups ran sequentially: %s", reason))
}

// Incomplete reports a run that stopped before every row was enriched.
func (e *Engine) Incomplete(processed, total int, cause error) []Diagnostic {
	reason := "cancelled"
	if cause != nil {
		reason = redact.Truncate(cause.Error(), 200)
	}
	return e.add(nil, newDiagnostic(IDIncomplete, RunRow, "", strconv.Itoa(processed),
		"run incomplete (%s): %d of %d rows enriched", reason, processed, total))
}

func (e *Engine) add(out []Diagnostic, d Diagnostic) []Diagnostic {
	if !e.enabled[d.RuleID] {
		return out
	}
	return append(out, d)
}

func fieldNames(fields []match.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func scoreText(r match.Result) string {
	if r.Score == nil {
		return ""
	}
	return strconv.FormatFloat(*r.Score, 'f', 1, 64)
}
