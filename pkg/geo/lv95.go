// Package geo converts between the Swiss LV95 grid and WGS84 and measures distances.
//
// The conversions use the swisstopo approximate formulas, accurate to a few metres
// inside Switzerland. All functions are pure; NaN inputs yield NaN outputs.
package geo

// LV95 false origin (Bern) and the unit used to normalize grid offsets.
const (
	lv95FalseEasting  = 2_600_000.0
	lv95FalseNorthing = 1_200_000.0
	gridUnit          = 1_000_000.0
)

// ToGeographic converts LV95 easting/northing (metres) to WGS84 latitude/longitude (degrees).
func ToGeographic(easting, northing float64) (lat, lon float64) {
	y := (easting - lv95FalseEasting) / gridUnit
	x := (northing - lv95FalseNorthing) / gridUnit

	// Results are in units of 10000 arc seconds.
	lambda := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	phi := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	return phi * 100 / 36, lambda * 100 / 36
}

// ToPlanar converts WGS84 latitude/longitude (degrees) to LV95 easting/northing (metres).
func ToPlanar(lat, lon float64) (easting, northing float64) {
	phi := (lat*3600 - 169028.66) / 10000
	lambda := (lon*3600 - 26782.5) / 10000

	easting = 2600072.37 +
		211455.93*lambda -
		10938.51*lambda*phi -
		0.36*lambda*phi*phi -
		44.54*lambda*lambda*lambda
	northing = 1200147.07 +
		308807.95*phi +
		3745.25*lambda*lambda +
		76.63*phi*phi -
		194.56*lambda*lambda*phi +
		119.79*phi*phi*phi
	return easting, northing
}
