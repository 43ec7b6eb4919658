package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrStorage              = errors.New("storage error")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrRateLimited          = errors.New("rate limited")
)

// StorageError reports a failed (and rolled back) repository operation.
// errors.Is matches both ErrStorage and the underlying driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// DimensionError builds an ErrDimensionMismatch with context.
func DimensionError(sector Sector, want, got int) error {
	return fmt.Errorf("%w: sector %s expects %d dims, got %d", ErrDimensionMismatch, sector, want, got)
}
