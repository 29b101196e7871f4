// Package enrichment runs a validation pass over a building table: column mapping,
// pre-lookup rules, batched registry lookups, scoring, post-lookup rules, and the run summary.
package enrichment

import (
	"math"
	"strings"

	"github.com/shpitdev/geodatacheck/pkg/columns"
	"github.com/shpitdev/geodatacheck/pkg/geo"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

// Table is the input: column names in file order and one value map per row.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// Record is one input row read through the column mapping. BuildingID keeps the raw cell.
type Record struct {
	Row         int
	BuildingID  string
	InternalID  string
	Latitude    float64
	Longitude   float64
	Easting     float64
	Northing    float64
	Canton      string
	City        string
	PostalCode  string
	Street      string
	HouseNumber string

	// Point is the input position resolved to WGS84, if any.
	Point geo.Point

	raw rules.PreInput
}

// addressFields are the fields whose absence R-GWR-09 reports.
var addressFields = []columns.Field{columns.PostalCode, columns.City, columns.Street, columns.HouseNumber}

func buildRecord(row int, values map[string]string, m columns.Mapping) Record {
	get := func(f columns.Field) string {
		col, ok := m.Column(f)
		if !ok {
			return ""
		}
		return strings.TrimSpace(values[col])
	}
	num := func(f columns.Field) float64 {
		v, _ := geo.ParseCoordinate(get(f))
		return v
	}

	r := Record{
		Row:         row,
		BuildingID:  values[columnOf(m, columns.BuildingID)],
		InternalID:  get(columns.InternalID),
		Latitude:    num(columns.Latitude),
		Longitude:   num(columns.Longitude),
		Easting:     num(columns.Easting),
		Northing:    num(columns.Northing),
		Canton:      get(columns.Canton),
		City:        get(columns.City),
		PostalCode:  get(columns.PostalCode),
		Street:      get(columns.Street),
		HouseNumber: get(columns.HouseNumber),
	}
	r.raw = rules.PreInput{
		Row:        row,
		BuildingID: r.BuildingID,
		PostalCode: r.PostalCode,
		Canton:     r.Canton,
		Easting:    get(columns.Easting),
		Northing:   get(columns.Northing),
		Latitude:   get(columns.Latitude),
		Longitude:  get(columns.Longitude),
		City:       r.City,
		Street:     r.Street,

		LV95Mapped:  mapped(m, columns.Easting) && mapped(m, columns.Northing),
		WGS84Mapped: mapped(m, columns.Latitude) && mapped(m, columns.Longitude),
	}
	r.Point = rules.InputPoint(r.raw)
	return r
}

func mapped(m columns.Mapping, f columns.Field) bool {
	_, ok := m.Column(f)
	return ok
}

func columnOf(m columns.Mapping, f columns.Field) string {
	c, _ := m.Column(f)
	return c
}

// missingAddress lists mapped address fields that are empty in r.
func missingAddress(r Record, m columns.Mapping) []string {
	var out []string
	for _, f := range addressFields {
		if _, mapped := m.Column(f); !mapped {
			continue
		}
		var v string
		switch f {
		case columns.PostalCode:
			v = r.PostalCode
		case columns.City:
			v = r.City
		case columns.Street:
			v = r.Street
		case columns.HouseNumber:
			v = r.HouseNumber
		}
		if v == "" {
			out = append(out, string(f))
		}
	}
	return out
}

// unmappedFields reports absent optional fields. A coordinate pair is only reported when
// the row set carries no other pair.
func unmappedFields(m columns.Mapping) []string {
	wgs84 := mapped(m, columns.Latitude) && mapped(m, columns.Longitude)
	lv95 := mapped(m, columns.Easting) && mapped(m, columns.Northing)

	var out []string
	for _, f := range m.Absent() {
		switch f {
		case columns.Latitude, columns.Longitude:
			if lv95 {
				continue
			}
		case columns.Easting, columns.Northing:
			if wgs84 {
				continue
			}
		}
		out = append(out, string(f))
	}
	return out
}

func isNaN(v float64) bool { return math.IsNaN(v) }
