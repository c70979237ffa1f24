/*
balance.go - What the company still owes an employee

PURPOSE:
  Folds a ReconciliationResult into the numbers people ask about: how many
  days were earned, how many were taken, how many are still owed, and how
  many were taken beyond any entitlement.

EXAMPLE:
  Periods [15, 15], events 10 + 10 + 10 + 5:
    TotalEntitled = 30
    TotalConsumed = 30
    Owed          = 0
    Overflow      = 5
    Net           = -5  (employee is 5 days in debt)

SEE ALSO:
  - engine.go: Produces the result summarized here
  - api/handlers.go: GET /balance
*/
package generic

import "github.com/shopspring/decimal"

// Balance summarizes one employee's reconciled entitlement.
type Balance struct {
	EmployeeID EmployeeID

	TotalEntitled decimal.Decimal
	TotalConsumed decimal.Decimal // absorbed by periods, overflow excluded
	Owed          decimal.Decimal // sum of per-period Remaining
	Overflow      decimal.Decimal

	Periods     int
	OpenPeriods int // periods not fully consumed

	// OldestOpen is the period the next leave day will be charged to.
	OldestOpen PeriodID
}

// Net is Owed minus Overflow. Negative means more leave was taken than earned.
func (b Balance) Net() decimal.Decimal {
	return b.Owed.Sub(b.Overflow)
}

// Summarize folds a result into a Balance.
func Summarize(r *ReconciliationResult) Balance {
	b := Balance{
		EmployeeID:    r.EmployeeID,
		TotalEntitled: decimal.Zero,
		TotalConsumed: decimal.Zero,
		Owed:          decimal.Zero,
		Overflow:      r.OverflowDays,
		Periods:       len(r.Periods),
	}
	for _, p := range r.Periods {
		b.TotalEntitled = b.TotalEntitled.Add(p.EntitledDays)
		b.TotalConsumed = b.TotalConsumed.Add(p.ConsumedDays)
		b.Owed = b.Owed.Add(p.Remaining())
		if p.Status != StatusFullyConsumed {
			b.OpenPeriods++
			if b.OldestOpen == "" {
				b.OldestOpen = p.PeriodID
			}
		}
	}
	return b
}
