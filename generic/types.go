/*
Package generic provides the core leave reconciliation engine.

PURPOSE:
  This package contains the data model and the allocation algorithm that
  decides which earned period each approved leave day is charged to. It has
  no knowledge of HTTP, SQL or text parsing: callers hand it periods and
  events, it hands back per-period totals and diagnostics.

KEY CONCEPTS IN THIS FILE (types.go):
  - EarnedPeriod: A service interval with a fixed day entitlement
  - ConsumptionEvent: An approved leave instance consuming entitlement days
  - TargetPeriodHint: Optional structured pointer to the intended period
  - PeriodStatus: Derived tag (unconsumed, partially consumed, fully consumed)
  - Employee/Period/Event IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Purity: Reconcile is a function of its inputs, nothing else
  2. Precision: Day counts are decimal.Decimal so fractional input can be
     detected and rejected instead of silently truncated
  3. Type Safety: Strong typing for IDs prevents mixing period/event IDs
  4. Determinism: Every ordering has a total tie-break on ID

USAGE:
  result, err := generic.Reconcile(periods, events)
  if err != nil {
      // nothing to persist
  }
  store.ApplyPeriodUpdates(ctx, employeeID, result.Updates())

SEE ALSO:
  - engine.go: The FIFO allocation algorithm
  - result.go: ReconciliationResult and diagnostics
  - store.go: Repository interfaces consumed by callers
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PeriodID string
type EventID string

// =============================================================================
// DAY QUANTITIES
// =============================================================================

// Days builds a day quantity from an integer.
func Days(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// MustParseDays parses a decimal string and panics on malformed input.
func MustParseDays(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// EARNED PERIOD
// =============================================================================

type PeriodStatus string

const (
	StatusUnconsumed        PeriodStatus = "unconsumed"
	StatusPartiallyConsumed PeriodStatus = "partially_consumed"
	StatusFullyConsumed     PeriodStatus = "fully_consumed"
)

// StatusFor derives the period status from its totals.
func StatusFor(consumed, entitled decimal.Decimal) PeriodStatus {
	switch {
	case consumed.GreaterThanOrEqual(entitled):
		return StatusFullyConsumed
	case consumed.IsZero():
		return StatusUnconsumed
	default:
		return StatusPartiallyConsumed
	}
}

// EarnedPeriod is a service interval with a fixed entitlement.
//
// ConsumedDays, OverflowDays and Status are owned by the engine: whatever the
// caller supplies is validated and then recomputed from scratch.
type EarnedPeriod struct {
	ID         PeriodID
	EmployeeID EmployeeID
	Start      TimePoint
	End        TimePoint

	EntitledDays decimal.Decimal
	ConsumedDays decimal.Decimal

	// Days charged here after every period was exhausted. Only ever set on
	// the chronologically last period.
	OverflowDays decimal.Decimal

	Status PeriodStatus
}

// Interval returns the period's [Start, End] span.
func (p EarnedPeriod) Interval() Period {
	return Period{Start: p.Start, End: p.End}
}

// Remaining returns the unconsumed entitlement, never negative.
func (p EarnedPeriod) Remaining() decimal.Decimal {
	r := p.EntitledDays.Sub(p.ConsumedDays)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// =============================================================================
// CONSUMPTION EVENT
// =============================================================================

// TargetPeriodHint points an event at a specific period, either by ID or by
// interval label (see Period.Label). PeriodID wins when both are set.
type TargetPeriodHint struct {
	PeriodID PeriodID
	Label    string
}

func (h *TargetPeriodHint) IsZero() bool {
	return h == nil || (h.PeriodID == "" && h.Label == "")
}

// ConsumptionEvent is an approved leave that consumes entitlement days.
type ConsumptionEvent struct {
	ID         EventID
	EmployeeID EmployeeID

	// EventDate orders events (usually the first day of leave).
	EventDate TimePoint
	// EndDate is informational: the last day of leave, zero if unknown.
	EndDate TimePoint

	DaysConsumed decimal.Decimal

	// Memo is the free-text note written by whoever approved the leave.
	Memo string
	Hint *TargetPeriodHint
}
