// Package match compares an input building record against its registry entry.
package match

import (
	"math"
	"strconv"
	"strings"

	"github.com/shpitdev/geodatacheck/pkg/geo"
	"golang.org/x/text/unicode/norm"
)

// Label classifies a row by how well it agrees with the registry.
type Label string

const (
	LabelMatch    Label = "Match"
	LabelPartial  Label = "Partial"
	LabelMismatch Label = "Mismatch"
	LabelNotFound Label = "NotFound"
)

// Score thresholds, inclusive.
const (
	MatchThreshold   = 90.0
	PartialThreshold = 50.0
)

// DefaultToleranceMeters is the distance up to which two coordinate pairs count as equal.
const DefaultToleranceMeters = 50.0

// Field names a compared attribute.
type Field string

const (
	FieldCoordinates Field = "coordinates"
	FieldCanton      Field = "canton"
	FieldPostalCode  Field = "postalCode"
	FieldCity        Field = "city"
	FieldStreet      Field = "street"
	FieldHouseNumber Field = "houseNumber"
)

// Compared lists the attributes in comparison order.
var Compared = []Field{
	FieldCoordinates,
	FieldCanton,
	FieldPostalCode,
	FieldCity,
	FieldStreet,
	FieldHouseNumber,
}

// Address is one side of a comparison. Missing coordinates are NaN.
type Address struct {
	Latitude    float64
	Longitude   float64
	Canton      string
	PostalCode  string
	City        string
	Street      string
	HouseNumber string
}

// FieldComparison is the outcome for one attribute.
type FieldComparison struct {
	Field      Field
	Input      string
	Registry   string
	Comparable bool
	Equal      bool
}

// Result is the scorer's verdict for one row.
type Result struct {
	// Score is nil when the registry had no entry.
	Score          *float64
	Label          Label
	Fields         []FieldComparison
	DistanceMeters float64
}

// Differing returns the comparable fields that did not agree, in comparison order.
func (r Result) Differing() []Field {
	var out []Field
	for _, c := range r.Fields {
		if c.Comparable && !c.Equal {
			out = append(out, c.Field)
		}
	}
	return out
}

// NotFound is the result for an identifier the registry does not know.
func NotFound() Result {
	return Result{Label: LabelNotFound, DistanceMeters: math.NaN()}
}

// Score compares input against registry. A non-positive tolerance means DefaultToleranceMeters.
func Score(input, registry Address, toleranceMeters float64) Result {
	if toleranceMeters <= 0 {
		toleranceMeters = DefaultToleranceMeters
	}

	res := Result{
		Fields:         make([]FieldComparison, 0, len(Compared)),
		DistanceMeters: geo.DistanceMeters(input.Latitude, input.Longitude, registry.Latitude, registry.Longitude),
	}

	coords := FieldComparison{
		Field:      FieldCoordinates,
		Input:      formatPoint(input.Latitude, input.Longitude),
		Registry:   formatPoint(registry.Latitude, registry.Longitude),
		Comparable: !math.IsNaN(res.DistanceMeters),
	}
	coords.Equal = coords.Comparable && geo.WithinTolerance(res.DistanceMeters, toleranceMeters)
	res.Fields = append(res.Fields, coords,
		compareText(FieldCanton, input.Canton, registry.Canton),
		compareText(FieldPostalCode, input.PostalCode, registry.PostalCode),
		compareText(FieldCity, input.City, registry.City),
		compareText(FieldStreet, input.Street, registry.Street),
		compareText(FieldHouseNumber, input.HouseNumber, registry.HouseNumber),
	)

	var compared, equal int
	for _, c := range res.Fields {
		if !c.Comparable {
			continue
		}
		compared++
		if c.Equal {
			equal++
		}
	}

	score := 100.0
	if compared > 0 {
		score = 100 * float64(equal) / float64(compared)
	}
	res.Score = &score
	res.Label = labelFor(score)
	return res
}

func labelFor(score float64) Label {
	switch {
	case score >= MatchThreshold:
		return LabelMatch
	case score >= PartialThreshold:
		return LabelPartial
	default:
		return LabelMismatch
	}
}

func compareText(f Field, input, registry string) FieldComparison {
	a, b := Normalize(input), Normalize(registry)
	if f == FieldPostalCode {
		a, b = Normalize(NormalizePostalCode(input)), Normalize(NormalizePostalCode(registry))
	}
	c := FieldComparison{
		Field:      f,
		Input:      input,
		Registry:   registry,
		Comparable: a != "" && b != "",
	}
	c.Equal = c.Comparable && a == b
	return c
}

var punctuation = strings.NewReplacer(".", "", ",", "")

// Normalize prepares a value for comparison: NFC, lower case, "." and "," removed, trimmed.
// Abbreviations are not expanded, so "Bahnhofstr." and "Bahnhofstrasse" stay different.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = punctuation.Replace(s)
	return strings.TrimSpace(s)
}

// maxExactFloat is the largest integer a float64 cell can carry without loss.
const maxExactFloat = 1 << 53

// NormalizePostalCode turns a spreadsheet float such as "8001.0" into "8001"; other
// values are only trimmed.
func NormalizePostalCode(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, ".") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > maxExactFloat {
		return s
	}
	return strconv.FormatUint(uint64(f), 10)
}

func formatPoint(lat, lon float64) string {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return ""
	}
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lon, 'f', 6, 64)
}
