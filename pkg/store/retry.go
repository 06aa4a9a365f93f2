package store

import (
	"context"
	"errors"
	"time"
)

// Backoff schedule for ErrUnavailable: 50, 100, 200, 400 ms, then give up.
const maxAttempts = 4

var backoffBase = 50 * time.Millisecond

// WithRetry runs fn, retrying with exponential backoff while it fails
// with ErrUnavailable. Other errors, including ErrConflict, surface
// immediately: conflicts need a fresh read, not a blind retry.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := backoffBase
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return err
}

// Retrying decorates a Port with the ErrUnavailable backoff on every
// operation. Conflicts and not-found pass through untouched.
type Retrying struct {
	inner Port
}

// NewRetrying wraps a port with the backoff schedule.
func NewRetrying(inner Port) *Retrying {
	return &Retrying{inner: inner}
}

func (r *Retrying) Get(ctx context.Context, collection, id string) (*Record, error) {
	var rec *Record
	err := WithRetry(ctx, func() error {
		var err error
		rec, err = r.inner.Get(ctx, collection, id)
		return err
	})
	return rec, err
}

func (r *Retrying) Put(ctx context.Context, collection, id string, data []byte, expectedVersion int64) (int64, error) {
	var version int64
	err := WithRetry(ctx, func() error {
		var err error
		version, err = r.inner.Put(ctx, collection, id, data, expectedVersion)
		return err
	})
	return version, err
}

func (r *Retrying) List(ctx context.Context, collection string, filter func(*Record) bool, limit int) ([]*Record, error) {
	var records []*Record
	err := WithRetry(ctx, func() error {
		var err error
		records, err = r.inner.List(ctx, collection, filter, limit)
		return err
	})
	return records, err
}

func (r *Retrying) Batch(ctx context.Context, collection string, writes []Write) error {
	return WithRetry(ctx, func() error {
		return r.inner.Batch(ctx, collection, writes)
	})
}
