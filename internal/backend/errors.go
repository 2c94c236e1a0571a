package backend

import (
	"errors"
	"fmt"
)

// ErrNoBackendAvailable is returned by detection when none of the three
// engines can be initialized on this platform.
var ErrNoBackendAvailable = errors.New("no sqlite backend available")

// ErrBackendUnavailable is returned when a specific engine cannot be
// loaded or cannot open the requested path.
var ErrBackendUnavailable = errors.New("backend unavailable")

// errAdapterClosed is the cause carried by a StorageError when a call
// lands on an adapter after Close.
var errAdapterClosed = errors.New("adapter closed")

// StorageError wraps any engine failure that happens after a backend has
// been opened. The original driver error can be accessed via errors.Unwrap.
type StorageError struct {
	Backend ID
	Op      string
	Cause   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// wrapErr converts a driver error into a *StorageError. Errors that are
// already StorageErrors pass through untouched.
func wrapErr(id ID, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: id, Op: op, Cause: err}
}
