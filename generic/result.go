package generic

import "github.com/shopspring/decimal"

// =============================================================================
// DIAGNOSTICS - Recoverable anomalies surfaced for human review
// =============================================================================

type DiagnosticCode string

const (
	// DiagnosticOverflow: an event consumed more days than all periods could absorb.
	DiagnosticOverflow DiagnosticCode = "overflow"

	// DiagnosticUnresolvedHint: an event's target hint matched no single period;
	// the event was placed by plain FIFO instead.
	DiagnosticUnresolvedHint DiagnosticCode = "unresolved_hint"
)

// Diagnostic is persisted as JSON on the run record, hence the tags.
type Diagnostic struct {
	Code     DiagnosticCode  `json:"code"`
	EventID  EventID         `json:"event_id"`
	PeriodID PeriodID        `json:"period_id,omitempty"` // period charged with the overflow; empty for hints
	Days     decimal.Decimal `json:"days"`
	Detail   string          `json:"detail"`
}

// =============================================================================
// RECONCILIATION RESULT - Engine output (not persisted directly)
// =============================================================================

// Application records how many days of one event were charged to a period.
// A single event produces several applications when it spills across periods.
type Application struct {
	EventID     EventID
	DaysApplied decimal.Decimal

	// Overflow marks days charged beyond the period's entitlement because
	// every period was exhausted.
	Overflow bool
}

// PeriodResult is the recomputed state of one period.
type PeriodResult struct {
	PeriodID     PeriodID
	Start        TimePoint
	End          TimePoint
	EntitledDays decimal.Decimal

	// ConsumedDays never exceeds EntitledDays; overshoot lives in OverflowDays.
	ConsumedDays  decimal.Decimal
	OverflowDays  decimal.Decimal
	Status        PeriodStatus
	AppliedEvents []Application
}

// Remaining returns the entitlement still owed for the period.
func (pr PeriodResult) Remaining() decimal.Decimal {
	return pr.EntitledDays.Sub(pr.ConsumedDays)
}

// ReconciliationResult holds every period in chronological order.
type ReconciliationResult struct {
	EmployeeID EmployeeID
	Periods    []PeriodResult

	// OverflowDays is consumption no period could absorb.
	OverflowDays decimal.Decimal
	// Overflow is the per-run alert flag: true when OverflowDays > 0.
	Overflow bool

	Diagnostics []Diagnostic
}

// Period looks up a period result by ID.
func (r *ReconciliationResult) Period(id PeriodID) (PeriodResult, bool) {
	for _, p := range r.Periods {
		if p.PeriodID == id {
			return p, true
		}
	}
	return PeriodResult{}, false
}

// TotalConsumed sums ConsumedDays over all periods (overflow excluded).
func (r *ReconciliationResult) TotalConsumed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Periods {
		total = total.Add(p.ConsumedDays)
	}
	return total
}

// DiagnosticsOf filters diagnostics by code.
func (r *ReconciliationResult) DiagnosticsOf(code DiagnosticCode) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// Updates converts the result into the payload a PeriodStore persists.
func (r *ReconciliationResult) Updates() []PeriodUpdate {
	updates := make([]PeriodUpdate, 0, len(r.Periods))
	for _, p := range r.Periods {
		updates = append(updates, PeriodUpdate{
			PeriodID:     p.PeriodID,
			ConsumedDays: p.ConsumedDays,
			OverflowDays: p.OverflowDays,
			Status:       p.Status,
		})
	}
	return updates
}

// ApplyTo returns copies of periods carrying the recomputed totals. Periods
// absent from the result are returned unchanged.
func (r *ReconciliationResult) ApplyTo(periods []EarnedPeriod) []EarnedPeriod {
	out := make([]EarnedPeriod, len(periods))
	for i, p := range periods {
		if pr, ok := r.Period(p.ID); ok {
			p.ConsumedDays = pr.ConsumedDays
			p.OverflowDays = pr.OverflowDays
			p.Status = pr.Status
		}
		out[i] = p
	}
	return out
}
