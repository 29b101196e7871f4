package registry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/geodatacheck/pkg/geo"
)

// DefaultBaseURL is the public geo.admin.ch REST API.
const DefaultBaseURL = "https://api3.geo.admin.ch"

// GWRLayer is the MapServer layer holding the building register.
const GWRLayer = "ch.bfs.gebaeude_wohnungs_register"

// maxResponseBytes bounds how much of a registry response is read.
const maxResponseBytes = 1 << 20

// HTTPLookuper looks buildings up through the MapServer find endpoint.
type HTTPLookuper struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// HTTPOptions configure an HTTPLookuper.
type HTTPOptions struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// CAPath, when set, replaces the system trust store with the PEM bundle at that path.
	CAPath string
	// Timeout is the client-wide ceiling; per-request timeouts come from the caller's ctx.
	Timeout   time.Duration
	UserAgent string
}

// NewHTTPLookuper constructs a lookuper for the registry at opts.BaseURL.
func NewHTTPLookuper(opts HTTPOptions) (*HTTPLookuper, error) {
	raw := opts.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = DefaultBaseURL
	}
	base, err := parseBaseURL(raw, "registry")
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(opts.CAPath, opts.Timeout)
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "geodatacheck"
	}
	return &HTTPLookuper{baseURL: base, http: hc, userAgent: ua}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Trailing slash so ResolveReference treats the base path as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(caPath string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

type findResponse struct {
	Results []struct {
		Attributes gwrAttributes `json:"attributes"`
	} `json:"results"`
}

// gwrAttributes is the subset of GWR attributes compared against input records.
// Numeric attributes arrive as numbers or strings depending on the layer version.
type gwrAttributes struct {
	EGID        flexString `json:"egid"`
	Easting     flexString `json:"gkode"`
	Northing    flexString `json:"gkodn"`
	Canton      string     `json:"gdekt"`
	Municipal   string     `json:"ggdename"`
	PostalCode  flexString `json:"dplz4"`
	PostalTown  string     `json:"dplzname"`
	Streets     flexList   `json:"strname"`
	HouseNumber flexString `json:"deinr"`
}

// Lookup fetches the building with egid.
func (l *HTTPLookuper) Lookup(ctx context.Context, egid uint64) (Entry, error) {
	u := l.baseURL.ResolveReference(&url.URL{Path: "rest/services/ech/MapServer/find"})
	q := url.Values{}
	q.Set("layer", GWRLayer)
	q.Set("searchText", strconv.FormatUint(egid, 10))
	q.Set("searchField", "egid")
	q.Set("returnGeometry", "false")
	q.Set("contains", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Entry{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.http.Do(req)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Entry{}, err
	}
	// Only an empty result set means not found; a 404 is a broken endpoint, not a missing building.
	if resp.StatusCode/100 != 2 {
		return Entry{}, newHTTPError("find", resp, b)
	}

	var out findResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return Entry{}, fmt.Errorf("parse find response: %w", err)
	}
	for _, r := range out.Results {
		if id, err := strconv.ParseUint(string(r.Attributes.EGID), 10, 64); err == nil && id != egid {
			continue
		}
		return r.Attributes.entry(egid), nil
	}
	return Entry{}, ErrNotFound
}

func (a gwrAttributes) entry(egid uint64) Entry {
	e := Entry{
		EGID:         egid,
		Easting:      math.NaN(),
		Northing:     math.NaN(),
		Latitude:     math.NaN(),
		Longitude:    math.NaN(),
		Canton:       strings.TrimSpace(a.Canton),
		Municipality: strings.TrimSpace(a.Municipal),
		City:         strings.TrimSpace(a.PostalTown),
		PostalCode:   strings.TrimSuffix(strings.TrimSpace(string(a.PostalCode)), ".0"),
		HouseNumber:  strings.TrimSpace(string(a.HouseNumber)),
	}
	if e.City == "" {
		e.City = e.Municipality
	}
	if len(a.Streets) > 0 {
		e.Street = strings.TrimSpace(a.Streets[0])
	}
	east, okE := geo.ParseCoordinate(string(a.Easting))
	north, okN := geo.ParseCoordinate(string(a.Northing))
	if okE && okN {
		e.Easting, e.Northing = east, north
		e.Latitude, e.Longitude = geo.ToGeographic(east, north)
	}
	return e
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", s)
		}
		*f = flexString(n.String())
	}
	return nil
}

// flexList accepts a JSON array of strings or a single string.
type flexList []string

func (f *flexList) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "[") {
		var v []string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = v
		return nil
	}
	var one flexString
	if err := one.UnmarshalJSON(b); err != nil {
		return err
	}
	if one == "" {
		*f = nil
		return nil
	}
	*f = flexList{string(one)}
	return nil
}
