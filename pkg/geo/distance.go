package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6_371_000.0

// DistanceMeters returns the great-circle distance between two WGS84 points using the
// haversine formula. Any NaN coordinate yields NaN.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a marginally above 1 for antipodal points.
	a = math.Min(a, 1)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// WithinTolerance reports whether d is a comparable distance not exceeding tolerance.
func WithinTolerance(d, tolerance float64) bool {
	return !math.IsNaN(d) && d <= tolerance
}
