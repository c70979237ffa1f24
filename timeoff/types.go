/*
Package timeoff connects the pure reconciliation engine to leave records.

KEY CONCEPTS:
  - LeaveRequest: An approval-workflow record, converted to a ConsumptionEvent
  - ParseMemoHint: Turns "periodo 2021-2022" in a memo into a TargetPeriodHint
  - AnniversaryAccrual: Generates one EarnedPeriod per completed service year
  - Reconciler: Lock, load, reconcile, persist, record. One employee at a time.

SEE ALSO:
  - generic/engine.go: The allocation algorithm
  - api/handlers.go: HTTP surface over Reconciler
*/
package timeoff

import (
	"errors"
	"fmt"

	"github.com/warp/accrual-engine/generic"
)

// ErrRequestNotApproved is returned when converting a request that has not
// been approved; only approved leave consumes entitlement.
var ErrRequestNotApproved = errors.New("leave request is not approved")

type RequestStatus string

const (
	StatusDraft    RequestStatus = "draft"
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusCanceled RequestStatus = "canceled"
)

// LeaveRequest is an approved (or not yet approved) leave covering the
// inclusive range [From, To].
type LeaveRequest struct {
	ID         string
	EmployeeID generic.EmployeeID
	From       generic.TimePoint
	To         generic.TimePoint
	Status     RequestStatus
	Memo       string

	// Days overrides the computed workday count when positive.
	Days int64

	// Holidays inside the range are not counted.
	Holidays []generic.TimePoint
}

// Workdays counts Monday to Friday days in [From, To], minus holidays.
func (r *LeaveRequest) Workdays() int64 {
	if r.From.IsZero() || r.To.IsZero() || r.To.Before(r.From) {
		return 0
	}
	n := int64(generic.WorkdaysBetween(r.From, r.To))
	span := generic.Period{Start: r.From, End: r.To}

	seen := make(map[string]bool, len(r.Holidays))
	for _, h := range r.Holidays {
		key := h.String()
		if seen[key] || !h.IsWorkday() || !span.Contains(h) {
			continue
		}
		seen[key] = true
		n--
	}
	return n
}

// ToConsumptionEvent converts an approved request into the engine's input.
// The memo is kept and parsed for a target period hint.
func (r *LeaveRequest) ToConsumptionEvent() (generic.ConsumptionEvent, error) {
	if r.Status != StatusApproved {
		return generic.ConsumptionEvent{}, fmt.Errorf("request %s: %w (status %s)", r.ID, ErrRequestNotApproved, r.Status)
	}
	if r.From.IsZero() || r.To.IsZero() || r.To.Before(r.From) {
		return generic.ConsumptionEvent{}, &generic.InvalidEventError{
			EventID: generic.EventID(r.ID),
			Reason:  fmt.Sprintf("invalid date range %s to %s", r.From, r.To),
		}
	}

	days := r.Days
	if days <= 0 {
		days = r.Workdays()
	}
	if days <= 0 {
		return generic.ConsumptionEvent{}, &generic.InvalidEventError{
			EventID: generic.EventID(r.ID),
			Reason:  "request covers no workdays",
		}
	}

	return generic.ConsumptionEvent{
		ID:           generic.EventID(r.ID),
		EmployeeID:   r.EmployeeID,
		EventDate:    r.From,
		EndDate:      r.To,
		DaysConsumed: generic.Days(days),
		Memo:         r.Memo,
		Hint:         ParseMemoHint(r.Memo),
	}, nil
}
