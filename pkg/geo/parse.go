package geo

import (
	"math"
	"strconv"
	"strings"
)

// ParseCoordinate parses a decimal coordinate cell. A lone decimal comma is accepted.
// Empty or malformed cells yield NaN and false.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// Point is a coordinate pair resolved to WGS84, with the system it was given in.
type Point struct {
	Latitude  float64
	Longitude float64
	Source    System
}

// Valid reports whether p carries usable coordinates.
func (p Point) Valid() bool {
	return p.Source != SystemUnknown && !math.IsNaN(p.Latitude) && !math.IsNaN(p.Longitude)
}

// NoPoint is the Point used when a row has no usable coordinates.
func NoPoint() Point {
	return Point{Latitude: math.NaN(), Longitude: math.NaN(), Source: SystemUnknown}
}

// Resolve detects the system of (first, second) and converts it to WGS84.
// first is easting or longitude, second northing or latitude.
func Resolve(first, second float64) Point {
	switch Detect(first, second) {
	case SystemLV95:
		lat, lon := ToGeographic(first, second)
		return Point{Latitude: lat, Longitude: lon, Source: SystemLV95}
	case SystemWGS84:
		return Point{Latitude: second, Longitude: first, Source: SystemWGS84}
	default:
		return NoPoint()
	}
}
