/*
Package storetest holds the behavior every generic.Store implementation must
share. Each store package runs it from its own tests:

	func TestStoreConformance(t *testing.T) {
	    storetest.Run(t, func(t *testing.T) generic.Store { return NewMemory() })
	}
*/
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accrual-engine/generic"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) generic.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("PeriodsListedByStart", func(t *testing.T) { testPeriodsListedByStart(t, newStore(t)) })
	t.Run("SavePeriodReplaces", func(t *testing.T) { testSavePeriodReplaces(t, newStore(t)) })
	t.Run("ApplyPeriodUpdates", func(t *testing.T) { testApplyPeriodUpdates(t, newStore(t)) })
	t.Run("ApplyPeriodUpdatesAllOrNothing", func(t *testing.T) { testApplyPeriodUpdatesAllOrNothing(t, newStore(t)) })
	t.Run("EventsListedByDate", func(t *testing.T) { testEventsListedByDate(t, newStore(t)) })
	t.Run("EventHintRoundTrip", func(t *testing.T) { testEventHintRoundTrip(t, newStore(t)) })
	t.Run("CancelEvent", func(t *testing.T) { testCancelEvent(t, newStore(t)) })
	t.Run("EmployeesIsolated", func(t *testing.T) { testEmployeesIsolated(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func Period(emp generic.EmployeeID, id string, startYear int, entitled int64) generic.EarnedPeriod {
	start := generic.NewTimePoint(startYear, time.March, 1)
	return generic.EarnedPeriod{
		ID:           generic.PeriodID(id),
		EmployeeID:   emp,
		Start:        start,
		End:          start.AddYears(1).AddDays(-1),
		EntitledDays: generic.Days(entitled),
		ConsumedDays: generic.Days(0),
		OverflowDays: generic.Days(0),
		Status:       generic.StatusUnconsumed,
	}
}

func Event(emp generic.EmployeeID, id string, date generic.TimePoint, days int64) generic.ConsumptionEvent {
	return generic.ConsumptionEvent{
		ID:           generic.EventID(id),
		EmployeeID:   emp,
		EventDate:    date,
		EndDate:      date.AddDays(int(days) - 1),
		DaysConsumed: generic.Days(days),
	}
}

func sameDays(t *testing.T, want int64, got interface{ String() string }) {
	t.Helper()
	assert.Equal(t, generic.Days(want).String(), got.String())
}

// =============================================================================
// PERIODS
// =============================================================================

func testPeriodsListedByStart(t *testing.T, s generic.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p3", 2023, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p2", 2022, 30)))

	periods, err := s.ListPeriods(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, generic.PeriodID("p1"), periods[0].ID)
	assert.Equal(t, generic.PeriodID("p2"), periods[1].ID)
	assert.Equal(t, generic.PeriodID("p3"), periods[2].ID)

	assert.True(t, periods[1].Start.Equal(generic.NewTimePoint(2022, time.March, 1)))
	assert.True(t, periods[1].End.Equal(generic.NewTimePoint(2023, time.February, 28)))
	sameDays(t, 30, periods[1].EntitledDays)
	assert.Equal(t, generic.StatusUnconsumed, periods[1].Status)
}

func testSavePeriodReplaces(t *testing.T, s generic.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 30)))

	periods, err := s.ListPeriods(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	sameDays(t, 30, periods[0].EntitledDays)
}

func testApplyPeriodUpdates(t *testing.T, s generic.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p2", 2022, 15)))

	err := s.ApplyPeriodUpdates(ctx, "emp-1", []generic.PeriodUpdate{
		{PeriodID: "p1", ConsumedDays: generic.Days(15), OverflowDays: generic.Days(0), Status: generic.StatusFullyConsumed},
		{PeriodID: "p2", ConsumedDays: generic.Days(15), OverflowDays: generic.Days(4), Status: generic.StatusFullyConsumed},
	})
	require.NoError(t, err)

	periods, err := s.ListPeriods(ctx, "emp-1")
	require.NoError(t, err)
	sameDays(t, 15, periods[0].ConsumedDays)
	sameDays(t, 4, periods[1].OverflowDays)
	assert.Equal(t, generic.StatusFullyConsumed, periods[1].Status)
	sameDays(t, 15, periods[1].EntitledDays)
}

func testApplyPeriodUpdatesAllOrNothing(t *testing.T, s generic.Store) {
	ctx := context.Background()
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-2", "other", 2021, 15)))

	err := s.ApplyPeriodUpdates(ctx, "emp-1", []generic.PeriodUpdate{
		{PeriodID: "p1", ConsumedDays: generic.Days(3), OverflowDays: generic.Days(0), Status: generic.StatusPartiallyConsumed},
		{PeriodID: "other", ConsumedDays: generic.Days(3), OverflowDays: generic.Days(0), Status: generic.StatusPartiallyConsumed},
	})
	assert.ErrorIs(t, err, generic.ErrPeriodNotFound)

	periods, err := s.ListPeriods(ctx, "emp-1")
	require.NoError(t, err)
	sameDays(t, 0, periods[0].ConsumedDays)
	assert.Equal(t, generic.StatusUnconsumed, periods[0].Status)
}

// =============================================================================
// EVENTS
// =============================================================================

func testEventsListedByDate(t *testing.T, s generic.Store) {
	ctx := context.Background()
	d := generic.NewTimePoint(2023, time.May, 2)
	require.NoError(t, s.SaveEvent(ctx, Event("emp-1", "b", d, 2)))
	require.NoError(t, s.SaveEvent(ctx, Event("emp-1", "c", d.AddDays(-30), 1)))
	require.NoError(t, s.SaveEvent(ctx, Event("emp-1", "a", d, 3)))

	events, err := s.ListApprovedEvents(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, generic.EventID("c"), events[0].ID)
	assert.Equal(t, generic.EventID("a"), events[1].ID)
	assert.Equal(t, generic.EventID("b"), events[2].ID)
	sameDays(t, 3, events[1].DaysConsumed)
	assert.True(t, events[1].EndDate.Equal(d.AddDays(2)))
}

func testEventHintRoundTrip(t *testing.T, s generic.Store) {
	ctx := context.Background()
	d := generic.NewTimePoint(2023, time.May, 2)

	byID := Event("emp-1", "e1", d, 2)
	byID.Memo = "vacaciones [period:p1]"
	byID.Hint = &generic.TargetPeriodHint{PeriodID: "p1"}
	byLabel := Event("emp-1", "e2", d.AddDays(1), 2)
	byLabel.Hint = &generic.TargetPeriodHint{Label: "2021-2022"}
	plain := Event("emp-1", "e3", d.AddDays(2), 2)

	for _, ev := range []generic.ConsumptionEvent{byID, byLabel, plain} {
		require.NoError(t, s.SaveEvent(ctx, ev))
	}

	got, err := s.GetEvent(ctx, "emp-1", "e1")
	require.NoError(t, err)
	require.NotNil(t, got.Hint)
	assert.Equal(t, generic.PeriodID("p1"), got.Hint.PeriodID)
	assert.Equal(t, "vacaciones [period:p1]", got.Memo)

	got, err = s.GetEvent(ctx, "emp-1", "e2")
	require.NoError(t, err)
	require.NotNil(t, got.Hint)
	assert.Equal(t, "2021-2022", got.Hint.Label)

	got, err = s.GetEvent(ctx, "emp-1", "e3")
	require.NoError(t, err)
	assert.Nil(t, got.Hint)
}

func testCancelEvent(t *testing.T, s generic.Store) {
	ctx := context.Background()
	d := generic.NewTimePoint(2023, time.May, 2)
	require.NoError(t, s.SaveEvent(ctx, Event("emp-1", "e1", d, 2)))
	require.NoError(t, s.SaveEvent(ctx, Event("emp-1", "e2", d, 2)))

	require.NoError(t, s.CancelEvent(ctx, "emp-1", "e1"))

	events, err := s.ListApprovedEvents(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, generic.EventID("e2"), events[0].ID)

	_, err = s.GetEvent(ctx, "emp-1", "e1")
	assert.ErrorIs(t, err, generic.ErrEventNotFound)
	assert.ErrorIs(t, s.CancelEvent(ctx, "emp-1", "e1"), generic.ErrEventNotFound, "already cancelled")
	assert.ErrorIs(t, s.CancelEvent(ctx, "emp-1", "missing"), generic.ErrEventNotFound)
}

func testEmployeesIsolated(t *testing.T, s generic.Store) {
	ctx := context.Background()
	d := generic.NewTimePoint(2023, time.May, 2)
	require.NoError(t, s.SavePeriod(ctx, Period("emp-2", "p1", 2021, 15)))
	require.NoError(t, s.SavePeriod(ctx, Period("emp-1", "p1", 2021, 30)))
	require.NoError(t, s.SaveEvent(ctx, Event("emp-3", "e1", d, 1)))

	periods, err := s.ListPeriods(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	sameDays(t, 30, periods[0].EntitledDays)

	_, err = s.GetEvent(ctx, "emp-1", "e1")
	assert.ErrorIs(t, err, generic.ErrEventNotFound)

	employees, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []generic.EmployeeID{"emp-1", "emp-2", "emp-3"}, employees)
}

// =============================================================================
// RUNS
// =============================================================================

func testRuns(t *testing.T, s generic.Store) {
	ctx := context.Background()
	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

	runs := []generic.ReconciliationRun{
		{ID: "r1", EmployeeID: "emp-1", Trigger: generic.TriggerManual, Status: generic.RunCompleted,
			OverflowDays: generic.Days(0), StartedAt: base, CompletedAt: base.Add(time.Second)},
		{ID: "r2", EmployeeID: "emp-2", Trigger: generic.TriggerScheduled, Status: generic.RunFailed,
			OverflowDays: generic.Days(0), Error: "invalid earned period", StartedAt: base.Add(time.Minute), CompletedAt: base.Add(time.Minute)},
		{ID: "r3", EmployeeID: "emp-1", Trigger: generic.TriggerEvent, Status: generic.RunCompleted,
			OverflowDays: generic.Days(5), Overflow: true, UnresolvedHints: 1,
			Diagnostics: `[{"Code":"overflow"}]`, StartedAt: base.Add(2 * time.Minute), CompletedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, generic.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID, "newest first")
	assert.True(t, all[0].Overflow)
	sameDays(t, 5, all[0].OverflowDays)
	assert.Equal(t, 1, all[0].UnresolvedHints)
	assert.Equal(t, `[{"Code":"overflow"}]`, all[0].Diagnostics)
	assert.Equal(t, generic.TriggerEvent, all[0].Trigger)
	assert.True(t, all[0].StartedAt.Equal(base.Add(2*time.Minute)))

	mine, err := s.ListRuns(ctx, generic.RunFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	failed, err := s.ListRuns(ctx, generic.RunFilter{Status: generic.RunFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "invalid earned period", failed[0].Error)

	limited, err := s.ListRuns(ctx, generic.RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r3", limited[0].ID)
}
