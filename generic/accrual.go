package generic

// =============================================================================
// ACCRUAL SCHEDULE - Interface for how earned periods come into existence
// =============================================================================

// AccrualSchedule generates the earned periods an employee is owed.
// Implementations define the business logic (anniversary years, tenure tiers).
type AccrualSchedule interface {
	// PeriodsThrough returns every period whose End is on or before asOf,
	// ordered by Start. IDs must be deterministic so regeneration is a no-op.
	PeriodsThrough(employeeID EmployeeID, asOf TimePoint) []EarnedPeriod
}

// MissingPeriods returns the generated periods not already present in
// existing, matched by ID. Existing periods are never touched.
func MissingPeriods(generated, existing []EarnedPeriod) []EarnedPeriod {
	have := make(map[PeriodID]bool, len(existing))
	for _, p := range existing {
		have[p.ID] = true
	}
	var out []EarnedPeriod
	for _, p := range generated {
		if !have[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
