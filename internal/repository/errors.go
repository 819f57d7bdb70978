package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the document does not exist yet.
	ErrNotFound = errors.New("document not found")
	// ErrConflict indicates the revision precondition of a write failed.
	ErrConflict = errors.New("document revision conflict")
	// ErrUnavailable indicates the store could not be reached or answered unexpectedly.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrMisconfigured indicates the store lacks the credentials it needs.
	ErrMisconfigured = errors.New("document store not configured")
)

// StatusError carries the upstream status of a failed store call.
// It unwraps to ErrConflict or ErrUnavailable.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: status %d", e.Err, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Err, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }
