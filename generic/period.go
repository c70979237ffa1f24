package generic

import (
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - A service interval that earns entitlement
// =============================================================================

// Period is an inclusive calendar interval [Start, End].
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Fiscal year 2025: Apr 1 - Mar 31
//   - Anniversary year: Hire date + 1 year - 1 day
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains reports whether t falls within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Valid reports whether Start is strictly before End.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.Before(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// Label is the human interval name used in leave memos: "2021-2022" for an
// anniversary year, "2021" when the period sits inside one calendar year.
func (p Period) Label() string {
	if p.Start.Year() == p.End.Year() {
		return strconv.Itoa(p.Start.Year())
	}
	return strconv.Itoa(p.Start.Year()) + "-" + strconv.Itoa(p.End.Year())
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // Custom start (e.g., Apr 1)
	PeriodAnniversary  PeriodType = "anniversary"   // Based on hire date
)

// PeriodConfig defines how to calculate earning periods for an employee.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal year: which month starts the fiscal year (1-12)
	FiscalYearStartMonth time.Month

	// For anniversary: the anchor date (the hire date)
	AnchorDate *TimePoint
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period that contains the given date
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	switch pc.Type {
	case PeriodFiscalYear:
		return pc.fiscalYearPeriod(date)

	case PeriodAnniversary:
		if pc.AnchorDate == nil {
			// Fallback to calendar year
			return Period{Start: StartOfYear(date.Year()), End: EndOfYear(date.Year())}
		}
		return pc.anniversaryPeriod(date)

	default:
		return Period{Start: StartOfYear(date.Year()), End: EndOfYear(date.Year())}
	}
}

func (pc PeriodConfig) fiscalYearPeriod(date TimePoint) Period {
	month := pc.FiscalYearStartMonth
	if month < time.January || month > time.December {
		month = time.January
	}
	year := date.Year()
	fiscalStart := NewTimePoint(year, month, 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if date.Before(fiscalStart) {
		fiscalStart = NewTimePoint(year-1, month, 1)
	}

	fiscalEnd := fiscalStart.AddYears(1).AddDays(-1)
	return Period{Start: fiscalStart, End: fiscalEnd}
}

func (pc PeriodConfig) anniversaryPeriod(date TimePoint) Period {
	anchor := *pc.AnchorDate

	// Find which anniversary year we're in
	yearsElapsed := date.Year() - anchor.Year()

	anniversaryThisYear := anchor.AddYears(yearsElapsed)

	// If date is before this year's anniversary, we're in previous period
	if date.Before(anniversaryThisYear) {
		yearsElapsed--
		anniversaryThisYear = anchor.AddYears(yearsElapsed)
	}

	periodEnd := anniversaryThisYear.AddYears(1).AddDays(-1)
	return Period{Start: anniversaryThisYear, End: periodEnd}
}
