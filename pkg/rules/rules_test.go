package rules_test

import (
	"errors"
	"math"
	"testing"

	"github.com/shpitdev/geodatacheck/pkg/geo"
	"github.com/shpitdev/geodatacheck/pkg/match"
	"github.com/shpitdev/geodatacheck/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleIDs(diags []rules.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.RuleID
	}
	return out
}

func newEngine(t *testing.T, ids ...string) *rules.Engine {
	t.Helper()
	e, err := rules.NewEngine(ids...)
	require.NoError(t, err)
	return e
}

func TestCatalogue_OrderAndUniqueIDs(t *testing.T) {
	cat := rules.Catalogue()
	require.Len(t, cat, 18)
	assert.Equal(t, rules.IDMissing, cat[0].ID)
	assert.Equal(t, rules.IDIncomplete, cat[len(cat)-1].ID)

	seen := map[string]bool{}
	for _, r := range cat {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
		assert.NotEmpty(t, r.Title)
	}

	r, ok := rules.Lookup(rules.IDLookupFailed)
	require.True(t, ok)
	assert.Equal(t, rules.SeverityError, r.Severity)
	assert.Equal(t, rules.PhasePost, r.Phase)
}

func TestParseBuildingID(t *testing.T) {
	tests := []struct {
		raw  string
		want uint64
		err  error
	}{
		{raw: "190112", want: 190112},
		{raw: " 42.0 ", want: 42},
		{raw: "0042", want: 42},
		{raw: "", err: rules.ErrMissingID},
		{raw: "   ", err: rules.ErrMissingID},
		{raw: "0", err: rules.ErrMalformedID},
		{raw: "-5", err: rules.ErrMalformedID},
		{raw: "42.5", err: rules.ErrMalformedID},
		{raw: "abc", err: rules.ErrMalformedID},
	}
	for _, tt := range tests {
		got, err := rules.ParseBuildingID(tt.raw)
		if tt.err != nil {
			assert.True(t, errors.Is(err, tt.err), "%q: got %v", tt.raw, err)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestPre_IdentifierRules(t *testing.T) {
	e := newEngine(t)
	state := rules.NewRunState()

	diags, res := e.Pre(state, rules.PreInput{Row: 0, BuildingID: ""})
	assert.Equal(t, []string{rules.IDMissing}, ruleIDs(diags))
	assert.False(t, res.Eligible)

	diags, res = e.Pre(state, rules.PreInput{Row: 1, BuildingID: "x12"})
	assert.Equal(t, []string{rules.IDMalformed}, ruleIDs(diags))
	assert.False(t, res.Eligible)
	assert.Equal(t, rules.SeverityError, diags[0].Severity)
	assert.Equal(t, 1, diags[0].RowIndex)
}

func TestPre_DuplicateReferencesFirstRow(t *testing.T) {
	e := newEngine(t)
	state := rules.NewRunState()

	diags, first := e.Pre(state, rules.PreInput{Row: 2, BuildingID: "42"})
	assert.Empty(t, diags)
	assert.True(t, first.Eligible)

	diags, dup := e.Pre(state, rules.PreInput{Row: 5, BuildingID: "42.0"})
	require.Equal(t, []string{rules.IDDuplicate}, ruleIDs(diags))
	assert.True(t, dup.Eligible, "duplicates are still looked up")
	assert.Equal(t, 2, dup.DuplicateOf)
	assert.Equal(t, rules.SeverityWarning, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "row 5")
	assert.Contains(t, diags[0].Message, "row 2")

	diags, _ = e.Pre(state, rules.PreInput{Row: 6, BuildingID: "042"})
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "row 2")
}

func TestPre_AddressFormatRules(t *testing.T) {
	tests := []struct {
		name string
		in   rules.PreInput
		want []string
	}{
		{name: "valid", in: rules.PreInput{BuildingID: "1", PostalCode: "8001", Canton: "zh"}},
		{name: "spreadsheet float plz", in: rules.PreInput{BuildingID: "1", PostalCode: "8001.0"}},
		{name: "short plz", in: rules.PreInput{BuildingID: "1", PostalCode: "801"}, want: []string{rules.IDPostalCode}},
		{name: "plz below range", in: rules.PreInput{BuildingID: "1", PostalCode: "0999"}, want: []string{rules.IDPostalCode}},
		{name: "non numeric plz", in: rules.PreInput{BuildingID: "1", PostalCode: "CH-8001"}, want: []string{rules.IDPostalCode}},
		{name: "bad canton", in: rules.PreInput{BuildingID: "1", Canton: "XX"}, want: []string{rules.IDCanton}},
		{
			name: "catalogue order within row",
			in:   rules.PreInput{BuildingID: "", PostalCode: "1", Canton: "XX", Easting: "1", Northing: "2"},
			want: []string{rules.IDMissing, rules.IDPostalCode, rules.IDCanton, rules.IDInputCoordinates},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags, _ := newEngine(t).Pre(rules.NewRunState(), tt.in)
			assert.Equal(t, tt.want, nilIfEmpty(ruleIDs(diags)))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestPre_InputCoordinates(t *testing.T) {
	tests := []struct {
		name string
		in   rules.PreInput
		fire bool
	}{
		{name: "lv95 inside", in: rules.PreInput{BuildingID: "1", Easting: "2683000", Northing: "1247000"}},
		{name: "wgs84 inside", in: rules.PreInput{BuildingID: "1", Latitude: "47.37", Longitude: "8.54"}},
		{name: "lv95 outside", in: rules.PreInput{BuildingID: "1", Easting: "2900000", Northing: "1247000"}, fire: true},
		{name: "unrecognised", in: rules.PreInput{BuildingID: "1", Easting: "683000", Northing: "247000"}, fire: true},
		{name: "not numeric", in: rules.PreInput{BuildingID: "1", Latitude: "n/a", Longitude: "8.5"}, fire: true},
		{name: "absent", in: rules.PreInput{BuildingID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags, _ := newEngine(t).Pre(rules.NewRunState(), tt.in)
			if tt.fire {
				assert.Equal(t, []string{rules.IDInputCoordinates}, ruleIDs(diags))
			} else {
				assert.Empty(t, diags)
			}
		})
	}
}

func TestInputPoint(t *testing.T) {
	p := rules.InputPoint(rules.PreInput{Easting: "2700000", Northing: "1100000", Latitude: "1", Longitude: "1"})
	require.True(t, p.Valid())
	assert.Equal(t, geo.SystemLV95, p.Source)

	p = rules.InputPoint(rules.PreInput{Latitude: "47,37", Longitude: "8,54"})
	require.True(t, p.Valid())
	assert.Equal(t, 47.37, p.Latitude)

	assert.False(t, rules.InputPoint(rules.PreInput{}).Valid())
}

func score(v float64) *float64 { return &v }

func TestPost(t *testing.T) {
	partial := match.Result{
		Score:          score(83.3),
		Label:          match.LabelPartial,
		DistanceMeters: 120,
		Fields: []match.FieldComparison{
			{Field: match.FieldCoordinates, Comparable: true},
			{Field: match.FieldStreet, Comparable: true, Equal: true},
		},
	}
	mismatch := match.Result{
		Score:          score(0),
		Label:          match.LabelMismatch,
		DistanceMeters: math.NaN(),
		Fields: []match.FieldComparison{
			{Field: match.FieldCity, Comparable: true},
			{Field: match.FieldStreet, Comparable: true},
		},
	}

	tests := []struct {
		name string
		in   rules.PostInput
		want []string
	}{
		{name: "not found", in: rules.PostInput{ID: 7, Status: rules.LookupNotFound}, want: []string{rules.IDNotFound}},
		{
			name: "fetch error distinct from not found",
			in:   rules.PostInput{ID: 7, Status: rules.LookupFailed, Err: errors.New("timeout")},
			want: []string{rules.IDLookupFailed},
		},
		{
			name: "missing address on skipped row",
			in:   rules.PostInput{Status: rules.LookupSkipped, MissingAddress: []string{"street"}},
			want: []string{rules.IDAddress},
		},
		{
			name: "deviation and partial",
			in:   rules.PostInput{ID: 7, Status: rules.LookupFound, Match: partial, ToleranceMeters: 50},
			want: []string{rules.IDDeviation, rules.IDPartial},
		},
		{
			name: "mismatch",
			in:   rules.PostInput{ID: 7, Status: rules.LookupFound, Match: mismatch},
			want: []string{rules.IDMismatch},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := newEngine(t).Post(tt.in)
			assert.Equal(t, tt.want, ruleIDs(diags))
		})
	}
}

func TestPost_MessagesListDifferingFields(t *testing.T) {
	diags := newEngine(t).Post(rules.PostInput{
		Row:    3,
		ID:     9,
		Status: rules.LookupFound,
		Match: match.Result{
			Score:          score(0),
			Label:          match.LabelMismatch,
			DistanceMeters: math.NaN(),
			Fields: []match.FieldComparison{
				{Field: match.FieldCity, Comparable: true},
				{Field: match.FieldStreet, Comparable: true},
			},
		},
	})
	require.Len(t, diags, 1)
	assert.Equal(t, 3, diags[0].RowIndex)
	assert.Contains(t, diags[0].Message, "city, street")
	assert.Equal(t, "city/street", diags[0].Column)
}

func TestPost_LookupErrorIsRedacted(t *testing.T) {
	diags := newEngine(t).Post(rules.PostInput{
		ID:     9,
		Status: rules.LookupFailed,
		Err:    errors.New("GET https://user:pw@example.test failed: token=abc123"),
	})
	require.Len(t, diags, 1)
	assert.NotContains(t, diags[0].Message, "abc123")
	assert.NotContains(t, diags[0].Message, "pw@")
}

func TestEngine_EnabledSubset(t *testing.T) {
	e := newEngine(t, "r-gwr-03", rules.IDNotFound)
	state := rules.NewRunState()

	diags, _ := e.Pre(state, rules.PreInput{Row: 0, BuildingID: "5", Canton: "XX"})
	assert.Empty(t, diags)

	diags, _ = e.Pre(state, rules.PreInput{Row: 1, BuildingID: "5"})
	assert.Equal(t, []string{rules.IDDuplicate}, ruleIDs(diags))

	assert.False(t, e.Enabled(rules.IDCanton))

	_, err := rules.NewEngine("R-NOPE")
	require.Error(t, err)
}

func TestEngine_MandatoryRulesAlwaysFire(t *testing.T) {
	e := newEngine(t, rules.IDNotFound)
	for _, r := range rules.Catalogue() {
		assert.Equal(t, r.Mandatory || r.ID == rules.IDNotFound, e.Enabled(r.ID), r.ID)
	}

	state := rules.NewRunState()
	diags, _ := e.Pre(state, rules.PreInput{Row: 0, BuildingID: ""})
	assert.Equal(t, []string{rules.IDMissing}, ruleIDs(diags))
	diags, _ = e.Pre(state, rules.PreInput{Row: 1, BuildingID: "0"})
	assert.Equal(t, []string{rules.IDMalformed}, ruleIDs(diags))

	diags = e.Post(rules.PostInput{ID: 3, Status: rules.LookupFailed, Err: errors.New("reset")})
	assert.Equal(t, []string{rules.IDLookupFailed}, ruleIDs(diags))

	assert.Len(t, e.UnmappedFields([]string{"street"}), 1)
	assert.Len(t, e.Fallback("throttled"), 1)
	assert.Len(t, e.Incomplete(0, 1, nil), 1)
}

func TestPre_StreetFormat(t *testing.T) {
	tests := []struct {
		street string
		fire   bool
	}{
		{street: "Bahnhofstrasse"},
		{street: "Rue"},
		{street: ""},
		{street: "12", fire: true},
		{street: " 4711 ", fire: true},
		{street: "Ab", fire: true},
		{street: "Aé", fire: true},
	}
	for _, tt := range tests {
		diags, _ := newEngine(t).Pre(rules.NewRunState(), rules.PreInput{BuildingID: "1", Street: tt.street})
		if tt.fire {
			require.Equal(t, []string{rules.IDStreetFormat}, ruleIDs(diags), tt.street)
			assert.Equal(t, rules.SeverityWarning, diags[0].Severity)
		} else {
			assert.Empty(t, diags, tt.street)
		}
	}
}

func TestPre_CoordinatePair(t *testing.T) {
	tests := []struct {
		name   string
		in     rules.PreInput
		column string
	}{
		{name: "northing missing", in: rules.PreInput{LV95Mapped: true, Easting: "2683000"}, column: "northing"},
		{name: "easting missing", in: rules.PreInput{LV95Mapped: true, Northing: "1247000"}, column: "easting"},
		{name: "longitude missing", in: rules.PreInput{WGS84Mapped: true, Latitude: "47.3"}, column: "longitude"},
		{name: "both empty", in: rules.PreInput{LV95Mapped: true}},
		{name: "pair not mapped", in: rules.PreInput{Easting: "2683000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.BuildingID = "1"
			diags, _ := newEngine(t).Pre(rules.NewRunState(), tt.in)
			if tt.column == "" {
				assert.Empty(t, diags)
				return
			}
			require.Equal(t, []string{rules.IDCoordinatePair}, ruleIDs(diags))
			assert.Equal(t, tt.column, diags[0].Column)
			assert.Equal(t, rules.SeverityWarning, diags[0].Severity)
		})
	}
}

func TestPre_DuplicateAddress(t *testing.T) {
	e := newEngine(t)
	state := rules.NewRunState()
	addr := func(row int, id, plz, city, street string) []string {
		diags, _ := e.Pre(state, rules.PreInput{Row: row, BuildingID: id, PostalCode: plz, City: city, Street: street})
		return ruleIDs(diags)
	}

	assert.Empty(t, addr(0, "1", "8001", "Zürich", "Bahnhofstrasse"))
	assert.Empty(t, addr(1, "2", "8001", "Zürich", "Limmatquai"))
	assert.Empty(t, addr(2, "3", "", "Zürich", "Bahnhofstrasse"), "rows without postal code are not keyed")
	assert.Equal(t, []string{rules.IDDuplicateAddress}, addr(3, "4", "8001.0", "zürich", "BAHNHOFSTRASSE"))

	diags, _ := e.Pre(state, rules.PreInput{Row: 4, BuildingID: "5", PostalCode: "8001", City: "Zürich", Street: "Bahnhofstrasse"})
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "row 0")
	assert.Equal(t, "8001, Zürich, Bahnhofstrasse", diags[0].Value)
}

func TestRunLevelDiagnostics(t *testing.T) {
	e := newEngine(t)

	unmapped := e.UnmappedFields([]string{"street", "canton"})
	require.Len(t, unmapped, 2)
	for _, d := range unmapped {
		assert.Equal(t, rules.RunRow, d.RowIndex)
		assert.Equal(t, rules.SeverityInfo, d.Severity)
	}

	fb := e.Fallback("all lookups throttled")
	require.Len(t, fb, 1)
	assert.Equal(t, rules.IDFallback, fb[0].RuleID)

	inc := e.Incomplete(100, 250, nil)
	require.Len(t, inc, 1)
	assert.Equal(t, rules.SeverityWarning, inc[0].Severity)
	assert.Contains(t, inc[0].Message, "100 of 250")
}
