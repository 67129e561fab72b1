package transaction

import (
	"errors"
	"fmt"
)

// ErrValidation indicates the remote store (or a local pre-check using the
// same rules) rejected a payload. Retrying the identical payload would fail
// identically, so validation errors are never queued.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

// ErrUnavailable indicates a transport-level failure talking to the remote
// store: unreachable, timed out, or a server-side fault. Recoverable by
// queueing the mutation for a later sync run.
type ErrUnavailable struct {
	Op  string
	Err error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("remote store unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrUnavailable) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates the target row does not exist on the remote store.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return "transaction not found: " + e.ID
}

// IsValidation reports whether err is (or wraps) a validation rejection.
func IsValidation(err error) bool {
	var ve *ErrValidation
	return errors.As(err, &ve)
}

// IsUnavailable reports whether err is (or wraps) a transport failure.
func IsUnavailable(err error) bool {
	var ue *ErrUnavailable
	return errors.As(err, &ue)
}
