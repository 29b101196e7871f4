package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shpitdev/geodatacheck/pkg/pipeline/redact"
	"github.com/shpitdev/geodatacheck/pkg/registry"
)

// tracedLookuper logs every registry request and its outcome at debug level, numbering
// attempts per identifier so retries are visible in the run log.
type tracedLookuper struct {
	next   registry.Lookuper
	logger zerolog.Logger

	mu       sync.Mutex
	attempts map[uint64]int
}

func newTracedLookuper(next registry.Lookuper, logger zerolog.Logger) *tracedLookuper {
	return &tracedLookuper{
		next:     next,
		logger:   logger,
		attempts: make(map[uint64]int),
	}
}

func (t *tracedLookuper) Lookup(ctx context.Context, egid uint64) (registry.Entry, error) {
	attempt := t.nextAttempt(egid)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug().
		Uint64("egid", egid).
		Int("attempt", attempt).
		Str("deadline_in", deadlineIn).
		Msg("registry request")

	start := time.Now()
	entry, err := t.next.Lookup(ctx, egid)
	elapsed := time.Since(start).Round(time.Millisecond)

	ev := t.logger.Debug().Uint64("egid", egid).Int("attempt", attempt).Dur("duration", elapsed)
	switch {
	case err == nil:
		ev.Str("status", "found").Msg("registry response")
	case errors.Is(err, registry.ErrNotFound):
		ev.Str("status", "not_found").Msg("registry response")
	default:
		ev.Str("status", "error").
			Bool("throttled", registry.IsThrottled(err)).
			Str("error", redact.Secrets(err.Error())).
			Msg("registry response")
	}
	return entry, err
}

func (t *tracedLookuper) nextAttempt(egid uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[egid]++
	return t.attempts[egid]
}
