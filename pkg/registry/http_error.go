package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/geodatacheck/pkg/pipeline/redact"
)

// apiErrorEnvelope is the error body the geo.admin.ch REST services return.
type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx registry response.
//
// Raw response bodies are never kept; only a redacted, truncated hint.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string

	// Snippet is a redacted, truncated hint for bodies without an error envelope.
	Snippet string

	// RetryAfter is the wait the registry asked for, zero when it sent none.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "registry http error"
	}
	parts := []string{
		fmt.Sprintf("registry api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

const maxSnippet = 256

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
		h.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}

	var env apiErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && strings.TrimSpace(env.Error.Message) != "" {
		h.Message = redact.Truncate(env.Error.Message, maxSnippet)
		return h
	}

	h.Snippet = redact.Truncate(string(body), maxSnippet)
	return h
}

// parseRetryAfter reads delay-seconds or an HTTP date. Unparseable values are ignored.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
