package geo_test

import (
	"math"
	"testing"

	"github.com/shpitdev/geodatacheck/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// northOf returns the latitude reached by moving meters due north along a meridian.
func northOf(lat, meters float64) float64 {
	return lat + meters/geo.EarthRadiusMeters*180/math.Pi
}

func TestToGeographic_SwisstopoReferencePoint(t *testing.T) {
	lat, lon := geo.ToGeographic(2_700_000, 1_100_000)
	assert.InDelta(t, 46.044127, lat, 1e-5)
	assert.InDelta(t, 8.730499, lon, 1e-5)
}

func TestToGeographic_FalseOrigin(t *testing.T) {
	lat, lon := geo.ToGeographic(2_600_000, 1_200_000)
	assert.InDelta(t, 16.9023892*100/36, lat, 1e-9)
	assert.InDelta(t, 2.6779094*100/36, lon, 1e-9)
}

func TestToPlanar_RoundTripWithinFewMetres(t *testing.T) {
	points := [][2]float64{
		{2_700_000, 1_100_000},
		{2_683_000, 1_247_000},
		{2_500_000, 1_120_000},
	}
	for _, p := range points {
		lat, lon := geo.ToGeographic(p[0], p[1])
		e, n := geo.ToPlanar(lat, lon)
		assert.InDelta(t, p[0], e, 2.5, "easting round trip for %v", p)
		assert.InDelta(t, p[1], n, 2.5, "northing round trip for %v", p)
	}
}

func TestTransforms_PropagateNaN(t *testing.T) {
	lat, lon := geo.ToGeographic(math.NaN(), 1_200_000)
	assert.True(t, math.IsNaN(lat))
	assert.True(t, math.IsNaN(lon))

	e, n := geo.ToPlanar(47, math.NaN())
	assert.True(t, math.IsNaN(e))
	assert.True(t, math.IsNaN(n))
}

func TestDistanceMeters(t *testing.T) {
	t.Run("zero for identical points", func(t *testing.T) {
		assert.Zero(t, geo.DistanceMeters(47.3769, 8.5417, 47.3769, 8.5417))
	})

	t.Run("symmetric", func(t *testing.T) {
		ab := geo.DistanceMeters(46.948, 7.4474, 47.3769, 8.5417)
		ba := geo.DistanceMeters(47.3769, 8.5417, 46.948, 7.4474)
		assert.InDelta(t, ab, ba, 1e-6)
		assert.InDelta(t, 95_494, ab, 5)
	})

	t.Run("nan is not comparable", func(t *testing.T) {
		d := geo.DistanceMeters(math.NaN(), 8.5, 47, 8.5)
		require.True(t, math.IsNaN(d))
		assert.False(t, geo.WithinTolerance(d, 50))
	})
}

func TestWithinTolerance_Boundary(t *testing.T) {
	exactly := geo.DistanceMeters(47, 8, northOf(47, 50), 8)
	beyond := geo.DistanceMeters(47, 8, northOf(47, 50.01), 8)

	assert.True(t, geo.WithinTolerance(exactly, 50), "50 m must be within tolerance, got %f", exactly)
	assert.False(t, geo.WithinTolerance(beyond, 50), "50.01 m must be outside tolerance, got %f", beyond)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name          string
		first, second float64
		want          geo.System
		inCH          bool
	}{
		{name: "lv95 zurich", first: 2_683_000, second: 1_247_000, want: geo.SystemLV95, inCH: true},
		{name: "lv95 outside envelope", first: 2_900_000, second: 1_247_000, want: geo.SystemLV95, inCH: false},
		{name: "wgs84 lon/lat", first: 8.54, second: 47.37, want: geo.SystemWGS84, inCH: true},
		{name: "wgs84 outside envelope", first: 10.8, second: 47.0, want: geo.SystemWGS84, inCH: false},
		{name: "lv03 not recognised", first: 683_000, second: 247_000, want: geo.SystemUnknown},
		{name: "nan", first: math.NaN(), second: 47, want: geo.SystemUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geo.Detect(tt.first, tt.second)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.inCH, geo.InSwitzerland(got, tt.first, tt.second))
		})
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: " 2683000.5 ", want: 2683000.5, ok: true},
		{in: "47,3769", want: 47.3769, ok: true},
		{in: "1,200,000", ok: false},
		{in: "", ok: false},
		{in: "north", ok: false},
		{in: "NaN", ok: false},
	}
	for _, tt := range tests {
		got, ok := geo.ParseCoordinate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.in)
		} else {
			assert.True(t, math.IsNaN(got), tt.in)
		}
	}
}

func TestResolve(t *testing.T) {
	p := geo.Resolve(2_700_000, 1_100_000)
	require.True(t, p.Valid())
	assert.Equal(t, geo.SystemLV95, p.Source)
	assert.InDelta(t, 46.044127, p.Latitude, 1e-5)

	p = geo.Resolve(8.54, 47.37)
	require.True(t, p.Valid())
	assert.Equal(t, geo.SystemWGS84, p.Source)
	assert.Equal(t, 47.37, p.Latitude)
	assert.Equal(t, 8.54, p.Longitude)

	assert.False(t, geo.Resolve(683_000, 247_000).Valid())
	assert.False(t, geo.NoPoint().Valid())
}
