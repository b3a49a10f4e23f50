package operation

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetries is terminal for one operation: Retry refuses to re-run
// once the budget is spent, so callers cannot silently loop forever.
var ErrMaxRetries = errors.New("max retries exceeded")

// ErrCancelled marks an operation ended by explicit Cancel.
var ErrCancelled = errors.New("operation cancelled")

// ErrNotRunning is returned by mutations that require a running operation.
var ErrNotRunning = errors.New("operation not running")

// TimeoutError is terminal for one operation and independent of the push
// channel: the associated token is invalidated exactly as with Cancel.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// ValidationError flags bad caller input (e.g. malformed JSON parameters).
// It is local to the operation and never reaches the state store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
