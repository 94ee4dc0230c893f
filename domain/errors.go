package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced document is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvariantViolation rejects a request before any write, e.g. deleting
	// a default link or merging an empty identity.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrTransactionFailure wraps a store-level transaction abort. Nothing
	// from the aborted transaction was applied.
	ErrTransactionFailure = errors.New("transaction failed")
)

// PartialCascadeError reports an agency merge that committed while the
// connection-link merge that follows it failed. Re-running the link merge
// for the same agencies converges.
type PartialCascadeError struct {
	MergedAgencyID string
	AgencyIDs      []string
	Err            error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("agency %s merged but connection links were not: %v", e.MergedAgencyID, e.Err)
}

func (e *PartialCascadeError) Unwrap() error {
	return e.Err
}

// NotFoundf builds an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Invariantf builds an error wrapping ErrInvariantViolation.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
