package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks input rejected before any network call.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrResolution marks a network failure before any chunk was signed.
	ErrResolution = errors.New("resolution failed")
	// ErrGroupExceedsCapacity means a recipient group can never fit a transaction.
	ErrGroupExceedsCapacity = errors.New("instruction group exceeds transaction capacity")
	// ErrWindowExpired means the block height passed the window before confirmation.
	ErrWindowExpired = errors.New("validity window expired before confirmation")
	// ErrNotSubmitted marks chunks skipped after an earlier chunk failed to submit.
	ErrNotSubmitted = errors.New("not submitted")
	// ErrConfirmTimeout means the confirmation guard elapsed first.
	ErrConfirmTimeout = errors.New("confirmation timed out")
	// ErrNotFound is returned for signatures the cluster does not know.
	ErrNotFound = errors.New("transaction not found")
)

// ValidationError identifies the offending recipient. Index is -1 for
// list-level violations.
type ValidationError struct {
	Index  int
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s at index %d: %s (%s)", e.Field, e.Index, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func invalid(index int, field, value, reason string) error {
	return &ValidationError{Index: index, Field: field, Value: value, Reason: reason}
}
