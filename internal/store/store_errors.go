package store

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by any call made outside the Ready state.
// Always a programmer error, never retried.
var ErrNotReady = errors.New("memory store is not ready")

// InvalidNamespaceError reports a malformed namespace string. The error
// text deliberately contains "Invalid namespace format"; callers match on
// that substring.
type InvalidNamespaceError struct {
	Namespace string
}

func (e *InvalidNamespaceError) Error() string {
	return fmt.Sprintf("Invalid namespace format: %q (segments must match [A-Za-z0-9_-]+ joined by single slashes)", e.Namespace)
}
