package calllog

import (
	"context"
	"errors"
	"fmt"
)

// Sink persists finalized call records. Implementations must treat
// Record.ExternalCorrelationID as an idempotency key: submitting the same
// record twice stores it once.
type Sink interface {
	Submit(ctx context.Context, rec Record) error
	Close() error
}

// Multi fans a record out to several sinks. Submit reports every failing
// sink; a retry resubmits to all of them, which idempotent sinks tolerate.
type Multi []Sink

func (m Multi) Submit(ctx context.Context, rec Record) error {
	var errs []error
	for i, s := range m {
		if err := s.Submit(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
