package db

import (
	"context"

	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
)

// Retrying wraps a Backend so every call is retried once on failure. A
// second failure is returned as a STORAGE_IO AppError. Batches commit
// all-or-nothing, so retrying Apply cannot double-apply a write.
type Retrying struct {
	inner Backend
	log   *logging.Logger
}

// NewRetrying wraps b. A nil logger uses the process-wide logger.
func NewRetrying(b Backend, log *logging.Logger) *Retrying {
	if log == nil {
		log = logging.Get()
	}
	return &Retrying{inner: b, log: log}
}

// Unwrap returns the wrapped backend.
func (r *Retrying) Unwrap() Backend {
	return r.inner
}

func (r *Retrying) do(ctx context.Context, what string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	r.log.Warn("storage operation failed, retrying", map[string]interface{}{
		"operation": what,
		"error":     err.Error(),
	})
	if err = fn(); err == nil {
		return nil
	}

	r.log.ErrorWithCode("storage operation failed", string(apperrors.ErrStorageIO), err, map[string]interface{}{
		"operation": what,
	})
	return apperrors.Wrap(apperrors.ErrStorageIO, what+" failed", err)
}

// Load retries a failed load once.
func (r *Retrying) Load(ctx context.Context, c Collection) ([]RawRecord, error) {
	var records []RawRecord
	err := r.do(ctx, "load "+string(c), func() error {
		var err error
		records, err = r.inner.Load(ctx, c)
		return err
	})
	return records, err
}

// Apply retries a failed batch once. Invalid batches are not retried.
func (r *Retrying) Apply(ctx context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "invalid batch", err)
	}
	return r.do(ctx, "apply batch", func() error {
		return r.inner.Apply(ctx, b)
	})
}

// Meta retries a failed meta read once.
func (r *Retrying) Meta(ctx context.Context, k MetaKey) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := r.do(ctx, "read meta "+string(k), func() error {
		var err error
		value, found, err = r.inner.Meta(ctx, k)
		return err
	})
	return value, found, err
}

// Close closes the wrapped backend.
func (r *Retrying) Close() error {
	return r.inner.Close()
}
