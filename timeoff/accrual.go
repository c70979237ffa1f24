/*
accrual.go - Earned period generation

PURPOSE:
  Implements generic.AccrualSchedule: one EarnedPeriod per completed service
  interval since the hire date, each with a fixed entitlement.

REGIMES:
  Two entitlement regimes are in use: 15 days per service year and 30 days
  per service year. Tenure tiers can raise the entitlement after N completed
  years.

PERIOD TYPES:
  anniversary (default): hire date to the day before the next anniversary
  calendar_year / fiscal_year: the first, partial period starts on the hire
    date and its entitlement is prorated (floored to whole days)

DETERMINISM:
  Period IDs are "<employee>-<start date>", so regenerating never creates
  duplicates and generic.MissingPeriods can diff against the store.

EXAMPLE:
  accrual := &AnniversaryAccrual{
      HireDate:    generic.NewTimePoint(2020, time.March, 1),
      DaysPerYear: Regime15,
      Tiers:       []TenureTier{{AfterYears: 5, DaysPerYear: 20}},
  }
  periods := accrual.PeriodsThrough("emp-1", generic.Today())
*/
package timeoff

import (
	"fmt"
	"sort"

	"github.com/warp/accrual-engine/generic"
)

const (
	Regime15 int64 = 15
	Regime30 int64 = 30
)

// TenureTier raises the entitlement once AfterYears service years are complete.
type TenureTier struct {
	AfterYears  int
	DaysPerYear int64
}

type AnniversaryAccrual struct {
	HireDate    generic.TimePoint
	DaysPerYear int64
	Tiers       []TenureTier

	// Periods selects the interval boundaries. The zero value means
	// anniversary years anchored on HireDate.
	Periods generic.PeriodConfig
}

var _ generic.AccrualSchedule = (*AnniversaryAccrual)(nil)

func (a *AnniversaryAccrual) PeriodsThrough(employeeID generic.EmployeeID, asOf generic.TimePoint) []generic.EarnedPeriod {
	if a.HireDate.IsZero() || asOf.Before(a.HireDate) {
		return nil
	}
	cfg := a.periodConfig()

	var out []generic.EarnedPeriod
	span := cfg.PeriodFor(a.HireDate)
	for span.End.BeforeOrEqual(asOf) {
		start := span.Start
		entitled := a.daysFor(serviceYears(a.HireDate, span.Start))
		if start.Before(a.HireDate) {
			entitled = prorate(entitled, a.HireDate, span)
			start = a.HireDate
		}

		if start.Before(span.End) {
			out = append(out, generic.EarnedPeriod{
				ID:           PeriodIDFor(employeeID, start),
				EmployeeID:   employeeID,
				Start:        start,
				End:          span.End,
				EntitledDays: generic.Days(entitled),
				ConsumedDays: generic.Days(0),
				OverflowDays: generic.Days(0),
				Status:       generic.StatusFor(generic.Days(0), generic.Days(entitled)),
			})
		}
		span = cfg.PeriodFor(span.End.AddDays(1))
	}
	return out
}

// PeriodIDFor is the deterministic ID of a generated period.
func PeriodIDFor(employeeID generic.EmployeeID, start generic.TimePoint) generic.PeriodID {
	return generic.PeriodID(fmt.Sprintf("%s-%s", employeeID, start))
}

func (a *AnniversaryAccrual) periodConfig() generic.PeriodConfig {
	cfg := a.Periods
	if cfg.Type == "" {
		cfg.Type = generic.PeriodAnniversary
	}
	if cfg.Type == generic.PeriodAnniversary && cfg.AnchorDate == nil {
		hire := a.HireDate
		cfg.AnchorDate = &hire
	}
	return cfg
}

func (a *AnniversaryAccrual) daysFor(years int) int64 {
	days := a.DaysPerYear
	tiers := append([]TenureTier(nil), a.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].AfterYears < tiers[j].AfterYears })
	for _, tier := range tiers {
		if years >= tier.AfterYears {
			days = tier.DaysPerYear
		}
	}
	return days
}

// serviceYears counts completed years between hire and at.
func serviceYears(hire, at generic.TimePoint) int {
	years := at.Year() - hire.Year()
	if at.Month() < hire.Month() || (at.Month() == hire.Month() && at.Day() < hire.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

func prorate(days int64, hire generic.TimePoint, span generic.Period) int64 {
	total := int64(generic.DaysBetween(span.Start, span.End) + 1)
	served := int64(generic.DaysBetween(hire, span.End) + 1)
	if total <= 0 || served <= 0 {
		return 0
	}
	return days * served / total
}
