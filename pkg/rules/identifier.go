package rules

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingID is returned by ParseBuildingID for an empty cell.
	ErrMissingID = errors.New("building identifier missing")
	// ErrMalformedID is returned for zero, negative, fractional or non-numeric identifiers.
	ErrMalformedID = errors.New("building identifier is not a positive integer")
)

// maxExactFloat is the largest integer a float64 cell can carry without loss.
const maxExactFloat = 1 << 53

// ParseBuildingID parses a raw identifier cell. Spreadsheet floats such as "42.0" and
// leading zeros are accepted; the raw cell itself is left untouched by callers.
func ParseBuildingID(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrMissingID
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		if v == 0 {
			return 0, ErrMalformedID
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f <= 0 || f > maxExactFloat || f != math.Trunc(f) {
		return 0, ErrMalformedID
	}
	return uint64(f), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var swissCantons = map[string]struct{}{
	"AG": {}, "AI": {}, "AR": {}, "BE": {}, "BL": {}, "BS": {}, "FR": {}, "GE": {}, "GL": {},
	"GR": {}, "JU": {}, "LU": {}, "NE": {}, "NW": {}, "OW": {}, "SG": {}, "SH": {}, "SO": {},
	"SZ": {}, "TG": {}, "TI": {}, "UR": {}, "VD": {}, "VS": {}, "ZG": {}, "ZH": {},
}

// IsCanton reports whether code is one of the 26 canton abbreviations, ignoring case.
func IsCanton(code string) bool {
	_, ok := swissCantons[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}
