// Package mockregistry serves a fixture set of buildings through the same find endpoint
// the real registry exposes, for tests and offline demos.
package mockregistry

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Building is one fixture record, keyed by GWR attribute names.
type Building struct {
	EGID        uint64
	Easting     float64
	Northing    float64
	Canton      string
	Municipal   string
	PostalCode  int
	PostalTown  string
	Street      string
	HouseNumber string
}

// Server is an in-memory registry.
type Server struct {
	mu        sync.RWMutex
	buildings map[uint64]Building
	failing   map[uint64]int

	throttle atomic.Int64
	delay    atomic.Int64

	requests atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	log zerolog.Logger
}

// New returns an empty server.
func New(log zerolog.Logger) *Server {
	return &Server{
		buildings: make(map[uint64]Building),
		failing:   make(map[uint64]int),
		log:       log,
	}
}

// Add registers buildings, replacing any with the same EGID.
func (s *Server) Add(bs ...Building) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bs {
		s.buildings[b.EGID] = b
	}
}

// Len returns the number of fixture buildings.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buildings)
}

// FailWith makes lookups of egid answer with status until cleared with status 0.
func (s *Server) FailWith(egid uint64, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failing, egid)
		return
	}
	s.failing[egid] = status
}

// Throttle makes the next n find requests answer 429.
func (s *Server) Throttle(n int) {
	s.throttle.Store(int64(n))
}

// SetDelay holds every find request for d before answering.
func (s *Server) SetDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

// Requests is the number of find requests served.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// PeakInFlight is the highest number of concurrently handled find requests.
func (s *Server) PeakInFlight() int {
	return int(s.peak.Load())
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/rest/services/{topic}/MapServer/find", s.handleFind)
	return r
}

type findResult struct {
	FeatureID uint64         `json:"featureId"`
	LayerBody string         `json:"layerBodId"`
	Attrs     map[string]any `json:"attributes"`
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if d := time.Duration(s.delay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	if s.throttle.Add(-1) >= 0 {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	q := r.URL.Query()
	if q.Get("layer") != "ch.bfs.gebaeude_wohnungs_register" || q.Get("searchField") != "egid" {
		writeError(w, http.StatusBadRequest, "unsupported layer or search field")
		return
	}
	egid, err := strconv.ParseUint(strings.TrimSpace(q.Get("searchText")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "searchText must be an EGID")
		return
	}

	s.mu.RLock()
	status, failing := s.failing[egid]
	b, found := s.buildings[egid]
	s.mu.RUnlock()

	if failing {
		writeError(w, status, "simulated failure")
		return
	}

	out := struct {
		Results []findResult `json:"results"`
	}{Results: []findResult{}}
	if found {
		out.Results = append(out.Results, findResult{
			FeatureID: b.EGID,
			LayerBody: "ch.bfs.gebaeude_wohnungs_register",
			Attrs:     b.attributes(),
		})
	}
	s.log.Debug().Uint64("egid", egid).Bool("found", found).Msg("find")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (b Building) attributes() map[string]any {
	attrs := map[string]any{
		"egid":     strconv.FormatUint(b.EGID, 10),
		"gdekt":    b.Canton,
		"ggdename": b.Municipal,
		"dplzname": b.PostalTown,
		"deinr":    b.HouseNumber,
		"strname":  []string{},
	}
	if b.Easting != 0 && b.Northing != 0 {
		attrs["gkode"] = b.Easting
		attrs["gkodn"] = b.Northing
	}
	if b.PostalCode != 0 {
		attrs["dplz4"] = b.PostalCode
	}
	if b.Street != "" {
		attrs["strname"] = []string{b.Street}
	}
	return attrs
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

// fixtureColumns is the header of a fixture CSV.
var fixtureColumns = []string{"egid", "gkode", "gkodn", "gdekt", "ggdename", "dplz4", "dplzname", "strname", "deinr"}

// LoadCSV reads fixture buildings from a CSV with the GWR attribute names as header.
// Columns may appear in any order; egid is required, the rest are optional.
func LoadCSV(r io.Reader) ([]Building, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fixture header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := idx["egid"]; !ok {
		return nil, fmt.Errorf("fixture header must contain egid (known columns: %s)", strings.Join(fixtureColumns, ", "))
	}

	var out []Building
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read fixture line %d: %w", line, err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		b := Building{
			Canton:      get("gdekt"),
			Municipal:   get("ggdename"),
			PostalTown:  get("dplzname"),
			Street:      get("strname"),
			HouseNumber: get("deinr"),
		}
		if b.EGID, err = strconv.ParseUint(get("egid"), 10, 64); err != nil || b.EGID == 0 {
			return nil, fmt.Errorf("fixture line %d: invalid egid %q", line, get("egid"))
		}
		if v := get("gkode"); v != "" {
			if b.Easting, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("fixture line %d: invalid gkode %q", line, v)
			}
		}
		if v := get("gkodn"); v != "" {
			if b.Northing, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("fixture line %d: invalid gkodn %q", line, v)
			}
		}
		if v := get("dplz4"); v != "" {
			if b.PostalCode, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("fixture line %d: invalid dplz4 %q", line, v)
			}
		}
		out = append(out, b)
	}
}

// LoadFile reads a fixture CSV from path.
func LoadFile(path string) ([]Building, error) {
	f, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadCSV(f)
}
