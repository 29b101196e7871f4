package geo

import "math"

// System identifies the reference system a coordinate pair appears to be in.
type System string

const (
	SystemUnknown System = "unknown"
	SystemLV95    System = "lv95"
	SystemWGS84   System = "wgs84"
)

// Bounds is an axis-aligned box; First is easting or longitude, Second northing or latitude.
type Bounds struct {
	FirstMin, FirstMax   float64
	SecondMin, SecondMax float64
}

// Contains reports whether (first, second) lies inside the box, edges included.
func (b Bounds) Contains(first, second float64) bool {
	return first >= b.FirstMin && first <= b.FirstMax &&
		second >= b.SecondMin && second <= b.SecondMax
}

// Switzerland, as an envelope in each supported system.
var (
	SwissBoundsLV95  = Bounds{FirstMin: 2_485_000, FirstMax: 2_834_000, SecondMin: 1_075_000, SecondMax: 1_296_000}
	SwissBoundsWGS84 = Bounds{FirstMin: 5.9, FirstMax: 10.5, SecondMin: 45.8, SecondMax: 47.9}
)

// Detect classifies an (easting-or-longitude, northing-or-latitude) pair by magnitude.
func Detect(first, second float64) System {
	switch {
	case math.IsNaN(first) || math.IsNaN(second):
		return SystemUnknown
	case first > 2_000_000 && first < 3_000_000 && second > 1_000_000 && second < 2_000_000:
		return SystemLV95
	case first > 5 && first < 11 && second > 45 && second < 48:
		return SystemWGS84
	default:
		return SystemUnknown
	}
}

// InSwitzerland reports whether the pair lies inside the Swiss envelope of the given system.
func InSwitzerland(sys System, first, second float64) bool {
	switch sys {
	case SystemLV95:
		return SwissBoundsLV95.Contains(first, second)
	case SystemWGS84:
		return SwissBoundsWGS84.Contains(first, second)
	default:
		return false
	}
}
