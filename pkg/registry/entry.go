// Package registry fetches building entries from the federal building register (GWR).
package registry

import (
	"context"
	"errors"
	"math"
)

// ErrNotFound is returned by a Lookuper when the registry has no building for the id.
var ErrNotFound = errors.New("building not found in registry")

// Entry is the registry's view of one building. Missing coordinates are NaN.
type Entry struct {
	EGID         uint64  `json:"egid"`
	Easting      float64 `json:"easting"`
	Northing     float64 `json:"northing"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Canton       string  `json:"canton"`
	City         string  `json:"city"`
	Municipality string  `json:"municipality"`
	PostalCode   string  `json:"postalCode"`
	Street       string  `json:"street"`
	HouseNumber  string  `json:"houseNumber"`
}

// HasCoordinates reports whether the entry carries a usable position.
func (e Entry) HasCoordinates() bool {
	return !math.IsNaN(e.Latitude) && !math.IsNaN(e.Longitude)
}

// Lookuper resolves a single building identifier.
//
// Implementations return ErrNotFound for unknown identifiers and must honour ctx.
type Lookuper interface {
	Lookup(ctx context.Context, egid uint64) (Entry, error)
}

// LookupFunc adapts a function to Lookuper.
type LookupFunc func(ctx context.Context, egid uint64) (Entry, error)

func (f LookupFunc) Lookup(ctx context.Context, egid uint64) (Entry, error) {
	return f(ctx, egid)
}

// Status is the kind of outcome a lookup produced.
type Status int

const (
	StatusPending Status = iota
	StatusFound
	StatusNotFound
	StatusFetchError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusFetchError:
		return "fetch_error"
	default:
		return "pending"
	}
}

// Outcome is the result of looking up one identifier.
type Outcome struct {
	EGID     uint64
	Status   Status
	Entry    Entry
	Err      error
	Attempts int
	// Done is false for identifiers the run abandoned before their lookup finished.
	Done bool
}

// Results holds one outcome per distinct identifier of a FetchMany call.
type Results struct {
	Outcomes map[uint64]Outcome
	// Fallback is set when the lookups ran sequentially after the concurrent attempt was rejected.
	Fallback       bool
	FallbackReason string
}

// Get returns the outcome for egid. Unknown ids report a pending, unfinished outcome.
func (r *Results) Get(egid uint64) Outcome {
	if r == nil {
		return Outcome{EGID: egid}
	}
	if o, ok := r.Outcomes[egid]; ok {
		return o
	}
	return Outcome{EGID: egid}
}
