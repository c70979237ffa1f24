/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers should use errors.Is / errors.As, never string matching.

ERROR CATEGORIES:
  1. Input errors - Structurally invalid periods or events (fatal for a run)
  2. Store errors - Missing rows, lock contention
  Business anomalies (overflow, unresolved hints) are NOT errors; they are
  Diagnostics carried in the ReconciliationResult.

USAGE:
  result, err := generic.Reconcile(periods, events)
  var evErr *generic.InvalidEventError
  if errors.As(err, &evErr) {
      log.Printf("event %s rejected: %s", evErr.EventID, evErr.Reason)
  }

SEE ALSO:
  - engine.go: Raises InvalidEventError / InvalidPeriodError
  - result.go: Diagnostic codes for non-fatal anomalies
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEvent is wrapped by every InvalidEventError.
	ErrInvalidEvent = errors.New("invalid consumption event")

	// ErrInvalidPeriod is wrapped by every InvalidPeriodError.
	ErrInvalidPeriod = errors.New("invalid earned period")

	// ErrPeriodNotFound is returned when an update references an unknown period.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrEventNotFound is returned when a referenced event doesn't exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrEventExists is returned when recording an event whose ID is already
	// approved; use a correction instead.
	ErrEventExists = errors.New("event already exists")

	// ErrLockUnavailable is returned when the per-employee lock could not be
	// acquired before the context expired.
	ErrLockUnavailable = errors.New("employee lock unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidEventError rejects a whole reconciliation run because one event is
// structurally invalid (non-positive or fractional days, bad identity).
type InvalidEventError struct {
	EventID EventID
	Reason  string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid consumption event %q: %s", e.EventID, e.Reason)
}

func (e *InvalidEventError) Unwrap() error {
	return ErrInvalidEvent
}

// InvalidPeriodError rejects a whole reconciliation run because one period is
// malformed or already corrupt (consumed above entitlement).
type InvalidPeriodError struct {
	PeriodID PeriodID
	Reason   string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid earned period %q: %s", e.PeriodID, e.Reason)
}

func (e *InvalidPeriodError) Unwrap() error {
	return ErrInvalidPeriod
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the request clashes with stored state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrEventExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrEventNotFound)
}
