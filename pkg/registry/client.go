package registry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/core"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/worker"
)

// Defaults for Options.
const (
	DefaultConcurrency     = worker.DefaultWorkers
	DefaultSequentialDelay = 100 * time.Millisecond
	DefaultRequestTimeout  = 10 * time.Second
	DefaultMaxRetries      = 1
	DefaultRetryBackoff    = 250 * time.Millisecond
)

// Options configure how a Client spreads lookups.
type Options struct {
	// Concurrency is the in-flight ceiling. Values <= 1 select sequential mode.
	Concurrency int
	// Sequential forces one lookup at a time regardless of Concurrency.
	Sequential bool
	// SequentialDelay is the minimum spacing between request starts in sequential mode.
	SequentialDelay time.Duration
	RequestTimeout  time.Duration
	// MaxRetries is the retry budget for transient failures. Negative disables retries.
	MaxRetries   int
	RetryBackoff time.Duration
	// RateLimitRPS caps request starts per second across all workers in concurrent
	// mode; <= 0 means unlimited. Sequential mode is paced by SequentialDelay instead.
	RateLimitRPS float64

	// OnOutcome, if set, is called from the FetchMany goroutine as each lookup finishes.
	// Identifiers retried after a sequential fallback are reported again.
	OnOutcome func(Outcome)

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.SequentialDelay <= 0 {
		o.SequentialDelay = DefaultSequentialDelay
	}
	if o.RateLimitRPS < 0 {
		o.RateLimitRPS = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// Client fetches many identifiers through a Lookuper with bounded concurrency.
//
// A Client belongs to one run: it remembers whether the registry rejected concurrent
// lookups and stays sequential afterwards. FetchMany must not be called concurrently.
type Client struct {
	lookuper Lookuper
	opts     Options

	firstBatchSeen bool
	sequential     bool
	reason         string
}

// NewClient wraps l.
func NewClient(l Lookuper, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{lookuper: l, opts: opts}
	if opts.Sequential || opts.Concurrency <= 1 {
		c.sequential = true
		c.firstBatchSeen = true
		c.reason = "concurrency disabled"
	}
	return c
}

// Sequential reports whether the client currently issues one lookup at a time.
func (c *Client) Sequential() bool {
	return c.sequential
}

// FetchMany looks up every distinct, non-zero identifier in ids exactly once.
//
// Outcomes are keyed by identifier. When ctx is cancelled the outcomes gathered so far are
// returned together with the context error; abandoned identifiers have Done=false.
func (c *Client) FetchMany(ctx context.Context, ids []uint64) (*Results, error) {
	distinct := dedupe(ids)
	res := &Results{Outcomes: make(map[uint64]Outcome, len(distinct))}
	if len(distinct) == 0 {
		return res, ctx.Err()
	}

	if c.sequential {
		res.Fallback, res.FallbackReason = true, c.reason
		err := c.run(ctx, distinct, res, c.sequentialOptions())
		return res, err
	}

	err := c.run(ctx, distinct, res, c.concurrentOptions())
	if err != nil {
		return res, err
	}
	if !c.firstBatchSeen {
		c.firstBatchSeen = true
		if allThrottled(res) {
			c.sequential = true
			c.reason = "registry throttled every concurrent lookup"
			c.opts.Logger.Warn().
				Int("lookups", len(distinct)).
				Msg("registry rejected concurrent lookups, falling back to sequential mode")

			res = &Results{
				Outcomes:       make(map[uint64]Outcome, len(distinct)),
				Fallback:       true,
				FallbackReason: c.reason,
			}
			err = c.run(ctx, distinct, res, c.sequentialOptions())
			return res, err
		}
	}
	return res, nil
}

func (c *Client) concurrentOptions() worker.Options {
	return worker.Options{
		Workers:           c.opts.Concurrency,
		MaxRetries:        c.opts.MaxRetries,
		RequestTimeout:    c.opts.RequestTimeout,
		RateLimitRPS:      c.opts.RateLimitRPS,
		BackoffInitial:    c.opts.RetryBackoff,
		BackoffMax:        c.opts.RetryBackoff * 4,
		BackoffJitterFrac: 0.2,
	}
}

func (c *Client) sequentialOptions() worker.Options {
	o := c.concurrentOptions()
	o.Workers = 1
	o.Interval = c.opts.SequentialDelay
	return o
}

func (c *Client) run(ctx context.Context, ids []uint64, res *Results, wopts worker.Options) error {
	start := time.Now()
	var onResult func(worker.Result[uint64, Outcome]) error
	if c.opts.OnOutcome != nil {
		onResult = func(r worker.Result[uint64, Outcome]) error {
			c.opts.OnOutcome(outcomeOf(r))
			return nil
		}
	}
	results, err := worker.ProcessAllWithCallback(ctx, ids, c.lookupOne, onResult, wopts)

	var failed int
	for _, r := range results {
		o := outcomeOf(r)
		if o.Status == StatusFetchError {
			failed++
		}
		res.Outcomes[r.Input] = o
	}

	c.opts.Logger.Debug().
		Int("lookups", len(ids)).
		Int("workers", wopts.Workers).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("registry batch finished")
	return err
}

func outcomeOf(r worker.Result[uint64, Outcome]) Outcome {
	o := r.Output
	o.EGID = r.Input
	o.Attempts = r.Attempts
	o.Done = r.Done
	if r.Done && r.Err != nil {
		o.Status = StatusFetchError
		o.Err = r.Err
	}
	return o
}

func (c *Client) lookupOne(ctx context.Context, egid uint64) (Outcome, error) {
	entry, err := c.lookuper.Lookup(ctx, egid)
	switch {
	case err == nil:
		return Outcome{EGID: egid, Status: StatusFound, Entry: entry}, nil
	case errors.Is(err, ErrNotFound):
		return Outcome{EGID: egid, Status: StatusNotFound}, nil
	case IsThrottled(err):
		return Outcome{}, &core.LimitedTransientError{Err: err, ExtraRetries: c.throttleRetries(err)}
	case isTransient(err):
		return Outcome{}, &core.TransientError{Err: err}
	default:
		return Outcome{}, err
	}
}

// throttleRetries is the retry allowance for a 429. One retry at most: persistent
// throttling is handled by the sequential fallback, and a Retry-After longer than the
// request timeout is not waited for at all.
func (c *Client) throttleRetries(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > c.opts.RequestTimeout {
		return 0
	}
	return 1
}

// isTransient reports failures worth one more try: network faults, timeouts, throttling
// and server errors.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func allThrottled(res *Results) bool {
	if len(res.Outcomes) == 0 {
		return false
	}
	for _, o := range res.Outcomes {
		if o.Status != StatusFetchError || !IsThrottled(o.Err) {
			return false
		}
	}
	return true
}

// IsThrottled reports whether err is the registry refusing a request with HTTP 429.
func IsThrottled(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
