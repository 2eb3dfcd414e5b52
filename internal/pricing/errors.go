package pricing

import (
	"errors"
	"fmt"
)

// ErrNoMatch is reported when no canonical role clears the acceptance threshold.
// It is informational: the orchestrator routes it to the fallback estimate.
var ErrNoMatch = errors.New("no canonical role matched")

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// AdapterUnavailableError reports that a single source could not be queried.
type AdapterUnavailableError struct {
	SourceID string
	Timeout  bool
	Err      error
}

func (e *AdapterUnavailableError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("source %s timed out: %v", e.SourceID, e.Err)
	}
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *AdapterUnavailableError) Unwrap() error { return e.Err }

// InvariantViolationError is an internal fault that aborts the request.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("aggregation invariant %q violated: %s", e.Invariant, e.Detail)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsInvariantViolation reports whether err is an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}
