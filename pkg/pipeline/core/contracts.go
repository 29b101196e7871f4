package core

import (
	"context"
	"fmt"
)

// TableSource loads an input table for one validation run.
type TableSource[T any] interface {
	Load(ctx context.Context) (T, error)
}

// ReportSink persists the content produced by one validation run.
type ReportSink[R any] interface {
	Store(ctx context.Context, report R) error
}

// LookupFunc resolves one key against an external system.
type LookupFunc[K any, V any] func(ctx context.Context, key K) (V, error)

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but only for ExtraRetries attempts regardless of
// the pool-wide retry budget.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return fmt.Sprintf("transient error (max %d retries)", e.maxExtraRetries())
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MaxExtraRetries caps the retries a worker may spend on this error.
func (e *LimitedTransientError) MaxExtraRetries() int {
	return e.maxExtraRetries()
}

func (e *LimitedTransientError) maxExtraRetries() int {
	if e == nil || e.ExtraRetries < 0 {
		return 0
	}
	return e.ExtraRetries
}
