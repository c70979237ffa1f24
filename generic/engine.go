/*
engine.go - FIFO allocation of consumed leave days to earned periods

PURPOSE:
  Given every earned period and every approved consumption event of one
  employee, decide which period each consumed day is charged to and
  recompute each period's consumed total and status.

ALGORITHM:
  1. Validate everything. Any structural problem aborts the whole run.
  2. Sort periods by Start (ties: ID) and events by EventDate (ties: ID).
  3. For each event, walk periods oldest to newest and charge
     min(remaining, spare capacity) to each period with capacity.
  4. Days left after the walk are OVERFLOW: charged to the last period as
     overshoot, summed into OverflowDays and reported as a diagnostic.
  5. Derive status per period.

TARGET HINTS:
  An event whose hint resolves to exactly one period starts its walk at that
  period, continues with newer periods, then wraps around to older ones. A
  hint that resolves to nothing (or to several periods) is ignored and
  reported; the event is placed by plain FIFO.

  Periods: [P1: 15 spare] [P2: 5 spare] [P3: 15 spare]
  Event 8 days, hint P2:  P2 <- 5, P3 <- 3
  Event 8 days, no hint:  P1 <- 8

PURITY:
  No I/O, no package state, no clock. Reconciling twice with the same
  input yields identical results, so corrections are always applied by
  re-running from scratch.

SEE ALSO:
  - result.go: Output types
  - timeoff/service.go: Load, reconcile, persist cycle under a lock
*/
package generic

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDays bounds every entitled or consumed quantity so the walk can run on
// int64 without wrapping.
const MaxDays = math.MaxInt32

// ReconciliationEngine allocates consumption to periods. It is stateless; the
// zero value is ready to use.
type ReconciliationEngine struct{}

// Reconcile is shorthand for (&ReconciliationEngine{}).Reconcile.
func Reconcile(periods []EarnedPeriod, events []ConsumptionEvent) (*ReconciliationResult, error) {
	return (&ReconciliationEngine{}).Reconcile(periods, events)
}

// slot is the running state of one period during a pass.
type slot struct {
	entitled int64
	consumed int64
	overflow decimal.Decimal
	applied  []Application
}

// Reconcile recomputes consumption for all periods. Inputs are not modified.
func (e *ReconciliationEngine) Reconcile(periods []EarnedPeriod, events []ConsumptionEvent) (*ReconciliationResult, error) {
	employeeID, err := validatePeriods(periods)
	if err != nil {
		return nil, err
	}
	employeeID, err = validateEvents(events, employeeID, len(periods) > 0)
	if err != nil {
		return nil, err
	}

	ordered := sortPeriods(periods)
	chronological := sortEvents(events)

	slots := make([]slot, len(ordered))
	for i, p := range ordered {
		slots[i].entitled = p.EntitledDays.IntPart()
		slots[i].overflow = Days(0)
	}

	result := &ReconciliationResult{EmployeeID: employeeID}
	overflowTotal := Days(0)

	for _, ev := range chronological {
		remaining := ev.DaysConsumed.IntPart()

		start, diag := resolveHint(ordered, ev)
		if diag != nil {
			result.Diagnostics = append(result.Diagnostics, *diag)
		}

		for _, i := range walkOrder(len(ordered), start) {
			if remaining == 0 {
				break
			}
			spare := slots[i].entitled - slots[i].consumed
			if spare <= 0 {
				continue
			}
			take := min(remaining, spare)
			slots[i].consumed += take
			slots[i].applied = append(slots[i].applied, Application{
				EventID:     ev.ID,
				DaysApplied: Days(take),
			})
			remaining -= take
		}

		if remaining > 0 {
			overflowTotal = overflowTotal.Add(Days(remaining))
			overflow := Diagnostic{
				Code:    DiagnosticOverflow,
				EventID: ev.ID,
				Days:    Days(remaining),
				Detail:  fmt.Sprintf("%d day(s) exceed total entitlement", remaining),
			}
			if n := len(slots); n > 0 {
				last := n - 1
				slots[last].overflow = slots[last].overflow.Add(Days(remaining))
				slots[last].applied = append(slots[last].applied, Application{
					EventID:     ev.ID,
					DaysApplied: Days(remaining),
					Overflow:    true,
				})
				overflow.PeriodID = ordered[last].ID
			}
			result.Diagnostics = append(result.Diagnostics, overflow)
		}
	}

	result.Periods = make([]PeriodResult, len(ordered))
	for i, p := range ordered {
		consumed := Days(slots[i].consumed)
		result.Periods[i] = PeriodResult{
			PeriodID:      p.ID,
			Start:         p.Start,
			End:           p.End,
			EntitledDays:  Days(slots[i].entitled),
			ConsumedDays:  consumed,
			OverflowDays:  slots[i].overflow,
			Status:        StatusFor(consumed, Days(slots[i].entitled)),
			AppliedEvents: slots[i].applied,
		}
	}
	result.OverflowDays = overflowTotal
	result.Overflow = overflowTotal.IsPositive()

	return result, nil
}

// =============================================================================
// ORDERING
// =============================================================================

func sortPeriods(periods []EarnedPeriod) []EarnedPeriod {
	out := append([]EarnedPeriod(nil), periods...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Start.Compare(out[j].Start); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortEvents(events []ConsumptionEvent) []ConsumptionEvent {
	out := append([]ConsumptionEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].EventDate.Compare(out[j].EventDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// walkOrder lists period indexes to visit: from start to the newest, then the
// older ones. start < 0 means plain oldest-first.
func walkOrder(n, start int) []int {
	order := make([]int, 0, n)
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		order = append(order, i)
	}
	for i := 0; i < start; i++ {
		order = append(order, i)
	}
	return order
}

// resolveHint returns the index of the hinted period, or -1 when the event has
// no usable hint. Unusable hints come back with a diagnostic.
func resolveHint(ordered []EarnedPeriod, ev ConsumptionEvent) (int, *Diagnostic) {
	if ev.Hint.IsZero() {
		return -1, nil
	}

	unresolved := func(detail string) (int, *Diagnostic) {
		return -1, &Diagnostic{
			Code:    DiagnosticUnresolvedHint,
			EventID: ev.ID,
			Days:    ev.DaysConsumed,
			Detail:  detail,
		}
	}

	if ev.Hint.PeriodID != "" {
		for i, p := range ordered {
			if p.ID == ev.Hint.PeriodID {
				return i, nil
			}
		}
		return unresolved(fmt.Sprintf("no period %q for employee %q", ev.Hint.PeriodID, ev.EmployeeID))
	}

	label := strings.TrimSpace(ev.Hint.Label)
	match := -1
	count := 0
	for i, p := range ordered {
		if p.Interval().Label() == label {
			if match < 0 {
				match = i
			}
			count++
		}
	}
	switch count {
	case 0:
		return unresolved(fmt.Sprintf("no period labelled %q", label))
	case 1:
		return match, nil
	default:
		return unresolved(fmt.Sprintf("label %q matches %d periods", label, count))
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func validatePeriods(periods []EarnedPeriod) (EmployeeID, error) {
	var employeeID EmployeeID
	seen := make(map[PeriodID]bool, len(periods))

	for i, p := range periods {
		if p.ID == "" {
			return "", &InvalidPeriodError{Reason: fmt.Sprintf("period at position %d has no id", i)}
		}
		if seen[p.ID] {
			return "", &InvalidPeriodError{PeriodID: p.ID, Reason: "duplicate period id"}
		}
		seen[p.ID] = true

		if i == 0 {
			employeeID = p.EmployeeID
		} else if p.EmployeeID != employeeID {
			return "", &InvalidPeriodError{
				PeriodID: p.ID,
				Reason:   fmt.Sprintf("belongs to employee %q, expected %q", p.EmployeeID, employeeID),
			}
		}

		if err := ValidatePeriod(p); err != nil {
			return "", err
		}
	}
	return employeeID, nil
}

// validateEvents checks events against the employee the periods belong to.
// When there are no periods the first event fixes the employee.
func validateEvents(events []ConsumptionEvent, employeeID EmployeeID, fixed bool) (EmployeeID, error) {
	seen := make(map[EventID]bool, len(events))

	for i, ev := range events {
		if ev.ID == "" {
			return "", &InvalidEventError{Reason: fmt.Sprintf("event at position %d has no id", i)}
		}
		if seen[ev.ID] {
			return "", &InvalidEventError{EventID: ev.ID, Reason: "duplicate event id"}
		}
		seen[ev.ID] = true

		if !fixed {
			employeeID = ev.EmployeeID
			fixed = true
		} else if ev.EmployeeID != employeeID {
			return "", &InvalidEventError{
				EventID: ev.ID,
				Reason:  fmt.Sprintf("belongs to employee %q, expected %q", ev.EmployeeID, employeeID),
			}
		}

		if err := ValidateEvent(ev); err != nil {
			return "", err
		}
	}
	return employeeID, nil
}

// ValidatePeriod checks the fields of one period. Identity checks that need
// the whole set (duplicates, employee mismatch) happen in Reconcile.
func ValidatePeriod(p EarnedPeriod) error {
	if p.ID == "" {
		return &InvalidPeriodError{Reason: "period id is required"}
	}
	if !p.Interval().Valid() {
		return &InvalidPeriodError{
			PeriodID: p.ID,
			Reason:   fmt.Sprintf("start date must be before end date, got %s", p.Interval()),
		}
	}
	if err := wholeNonNegative(p.EntitledDays); err != "" {
		return &InvalidPeriodError{PeriodID: p.ID, Reason: "entitled days " + err}
	}
	if err := wholeNonNegative(p.ConsumedDays); err != "" {
		return &InvalidPeriodError{PeriodID: p.ID, Reason: "consumed days " + err}
	}
	if p.ConsumedDays.GreaterThan(p.EntitledDays) {
		return &InvalidPeriodError{
			PeriodID: p.ID,
			Reason:   fmt.Sprintf("consumed days %s exceed entitled days %s", p.ConsumedDays, p.EntitledDays),
		}
	}
	return nil
}

// ValidateEvent checks the fields of one event.
func ValidateEvent(ev ConsumptionEvent) error {
	if ev.ID == "" {
		return &InvalidEventError{Reason: "event id is required"}
	}
	if ev.EventDate.IsZero() {
		return &InvalidEventError{EventID: ev.ID, Reason: "event date is required"}
	}
	if !ev.EndDate.IsZero() && ev.EndDate.Before(ev.EventDate) {
		return &InvalidEventError{EventID: ev.ID, Reason: "end date is before event date"}
	}
	if !ev.DaysConsumed.IsPositive() {
		return &InvalidEventError{
			EventID: ev.ID,
			Reason:  fmt.Sprintf("days consumed must be positive, got %s", ev.DaysConsumed),
		}
	}
	if !ev.DaysConsumed.IsInteger() {
		return &InvalidEventError{
			EventID: ev.ID,
			Reason:  fmt.Sprintf("days consumed must be a whole number, got %s", ev.DaysConsumed),
		}
	}
	if ev.DaysConsumed.GreaterThan(maxDays) {
		return &InvalidEventError{
			EventID: ev.ID,
			Reason:  fmt.Sprintf("days consumed must not exceed %d, got %s", MaxDays, ev.DaysConsumed),
		}
	}
	return nil
}

var maxDays = decimal.NewFromInt(MaxDays)

func wholeNonNegative(d decimal.Decimal) string {
	if d.IsNegative() {
		return fmt.Sprintf("must be non-negative, got %s", d)
	}
	if !d.IsInteger() {
		return fmt.Sprintf("must be a whole number, got %s", d)
	}
	if d.GreaterThan(maxDays) {
		return fmt.Sprintf("must not exceed %d, got %s", MaxDays, d)
	}
	return ""
}
