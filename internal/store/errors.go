package store

import (
	"errors"
	"fmt"

	"github.com/nidhogg/resumemind/internal/provider"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is a validation error: display names are unique.
	ErrDuplicateName = fmt.Errorf("%w: provider name already exists", provider.ErrInvalidConfig)
)

// StorageError wraps driver and file I/O failures so callers can tell them
// apart from not-found and validation outcomes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a user-correctable input problem.
func IsValidation(err error) bool {
	return errors.Is(err, provider.ErrInvalidConfig)
}

// IsStorage reports whether err is an underlying storage failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
