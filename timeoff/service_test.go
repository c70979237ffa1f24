package timeoff_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/generic/store"
	"github.com/warp/accrual-engine/generic/storetest"
	"github.com/warp/accrual-engine/lock"
	"github.com/warp/accrual-engine/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const emp = generic.EmployeeID("emp-1")

func newReconciler(t *testing.T) (*timeoff.Reconciler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	r := timeoff.NewReconciler(mem, nil, nil, nil)
	r.Now = ticking()
	return r, mem
}

// ticking is a clock that advances one second per call so run order is stable.
func ticking() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// withTwoYears saves two 15-day anniversary periods: 2021-2022 and 2022-2023.
func withTwoYears(t *testing.T, r *timeoff.Reconciler) {
	t.Helper()
	ctx := context.Background()
	_, err := r.SavePeriod(ctx, storetest.Period(emp, "p1", 2021, 15))
	require.NoError(t, err)
	_, err = r.SavePeriod(ctx, storetest.Period(emp, "p2", 2022, 15))
	require.NoError(t, err)
}

func storedPeriod(t *testing.T, mem *store.Memory, id generic.PeriodID) generic.EarnedPeriod {
	t.Helper()
	periods, err := mem.ListPeriods(context.Background(), emp)
	require.NoError(t, err)
	for _, p := range periods {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("period %s not stored", id)
	return generic.EarnedPeriod{}
}

func assertStored(t *testing.T, mem *store.Memory, id generic.PeriodID, consumed int64, status generic.PeriodStatus) {
	t.Helper()
	p := storedPeriod(t, mem, id)
	assert.Equal(t, generic.Days(consumed).String(), p.ConsumedDays.String(), "period %s consumed", id)
	assert.Equal(t, status, p.Status, "period %s status", id)
}

func runs(t *testing.T, mem *store.Memory) []generic.ReconciliationRun {
	t.Helper()
	out, err := mem.ListRuns(context.Background(), generic.RunFilter{EmployeeID: emp})
	require.NoError(t, err)
	return out
}

// =============================================================================
// EVENT LIFECYCLE
// =============================================================================

func TestReconciler_RecordEventPersistsTotals(t *testing.T) {
	// GIVEN: Two 15-day periods
	// WHEN: A 20-day leave is recorded
	// THEN: Stored totals are 15 + 5 and a completed run is recorded

	r, mem := newReconciler(t)
	withTwoYears(t, r)

	result, err := r.RecordEvent(context.Background(), storetest.Event(emp, "e1", date(2023, time.June, 1), 20))
	require.NoError(t, err)
	assert.False(t, result.Overflow)

	assertStored(t, mem, "p1", 15, generic.StatusFullyConsumed)
	assertStored(t, mem, "p2", 5, generic.StatusPartiallyConsumed)

	all := runs(t, mem)
	require.Len(t, all, 3, "two period saves plus the event")
	assert.Equal(t, generic.TriggerEvent, all[0].Trigger)
	assert.Equal(t, generic.RunCompleted, all[0].Status)
	assert.Equal(t, "[]", all[0].Diagnostics)
}

func TestReconciler_RecordEventRejectsDuplicate(t *testing.T) {
	r, _ := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	ev := storetest.Event(emp, "e1", date(2023, time.June, 1), 2)
	_, err := r.RecordEvent(ctx, ev)
	require.NoError(t, err)

	_, err = r.RecordEvent(ctx, ev)
	assert.ErrorIs(t, err, generic.ErrEventExists)
	assert.True(t, generic.IsConflict(err))
}

func TestReconciler_RecordEventRejectsInvalidInput(t *testing.T) {
	r, mem := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	fractional := storetest.Event(emp, "e1", date(2023, time.June, 1), 1)
	fractional.DaysConsumed = generic.MustParseDays("1.5")
	_, err := r.RecordEvent(ctx, fractional)
	assert.ErrorIs(t, err, generic.ErrInvalidEvent)

	anonymous := storetest.Event("", "e2", date(2023, time.June, 1), 1)
	_, err = r.RecordEvent(ctx, anonymous)
	assert.ErrorIs(t, err, generic.ErrInvalidEvent)

	events, err := mem.ListApprovedEvents(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReconciler_CorrectEventRecomputes(t *testing.T) {
	// GIVEN: A 20-day leave spilling into the second period
	// WHEN: It is corrected down to 10 days
	// THEN: The second period is freed entirely

	r, mem := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	ev := storetest.Event(emp, "e1", date(2023, time.June, 1), 20)
	_, err := r.RecordEvent(ctx, ev)
	require.NoError(t, err)

	ev.DaysConsumed = generic.Days(10)
	_, err = r.CorrectEvent(ctx, ev)
	require.NoError(t, err)

	assertStored(t, mem, "p1", 10, generic.StatusPartiallyConsumed)
	assertStored(t, mem, "p2", 0, generic.StatusUnconsumed)
}

func TestReconciler_OversizedEventRejectedAndRecoverable(t *testing.T) {
	// GIVEN: An approval beyond the largest accepted quantity
	// WHEN: Recording it, then finding one already stored by another writer
	// THEN: Recording is rejected with nothing persisted; a stored one fails the run
	//       until it is cancelled, after which the employee reconciles normally

	r, mem := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	huge := storetest.Event(emp, "huge", date(2023, time.June, 1), 1)
	huge.DaysConsumed = generic.MustParseDays("9223372036854775808")
	_, err := r.RecordEvent(ctx, huge)
	assert.ErrorIs(t, err, generic.ErrInvalidEvent)

	_, err = r.RecordEvent(ctx, storetest.Event(emp, "e1", date(2023, time.June, 2), 4))
	require.NoError(t, err)
	assertStored(t, mem, "p1", 4, generic.StatusPartiallyConsumed)

	require.NoError(t, mem.SaveEvent(ctx, huge))
	_, err = r.Reconcile(ctx, emp, generic.TriggerManual)
	assert.ErrorIs(t, err, generic.ErrInvalidEvent)
	assertStored(t, mem, "p1", 4, generic.StatusPartiallyConsumed)

	_, err = r.CancelEvent(ctx, emp, "huge")
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, emp, generic.TriggerManual)
	require.NoError(t, err)
	assertStored(t, mem, "p1", 4, generic.StatusPartiallyConsumed)
	assertStored(t, mem, "p2", 0, generic.StatusUnconsumed)
}

func TestReconciler_CorrectUnknownEvent(t *testing.T) {
	r, _ := newReconciler(t)
	withTwoYears(t, r)

	_, err := r.CorrectEvent(context.Background(), storetest.Event(emp, "ghost", date(2023, time.June, 1), 1))
	assert.ErrorIs(t, err, generic.ErrEventNotFound)
}

func TestReconciler_CancelEventReturnsDays(t *testing.T) {
	r, mem := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	_, err := r.RecordEvent(ctx, storetest.Event(emp, "e1", date(2023, time.June, 1), 8))
	require.NoError(t, err)
	_, err = r.RecordEvent(ctx, storetest.Event(emp, "e2", date(2023, time.July, 1), 10))
	require.NoError(t, err)
	assertStored(t, mem, "p2", 3, generic.StatusPartiallyConsumed)

	_, err = r.CancelEvent(ctx, emp, "e1")
	require.NoError(t, err)

	assertStored(t, mem, "p1", 10, generic.StatusPartiallyConsumed)
	assertStored(t, mem, "p2", 0, generic.StatusUnconsumed)

	_, err = r.CancelEvent(ctx, emp, "e1")
	assert.ErrorIs(t, err, generic.ErrEventNotFound, "already cancelled")
}

func TestReconciler_RecordRequest(t *testing.T) {
	r, mem := newReconciler(t)
	withTwoYears(t, r)

	_, err := r.RecordRequest(context.Background(), timeoff.LeaveRequest{
		ID:         "req-1",
		EmployeeID: emp,
		From:       date(2024, time.June, 3),
		To:         date(2024, time.June, 7),
		Status:     timeoff.StatusApproved,
	})
	require.NoError(t, err)
	assertStored(t, mem, "p1", 5, generic.StatusPartiallyConsumed)

	_, err = r.RecordRequest(context.Background(), timeoff.LeaveRequest{
		ID:         "req-2",
		EmployeeID: emp,
		From:       date(2024, time.June, 10),
		To:         date(2024, time.June, 10),
		Status:     timeoff.StatusRejected,
	})
	assert.ErrorIs(t, err, timeoff.ErrRequestNotApproved)
}

// =============================================================================
// HINTS, OVERFLOW, FAILURE
// =============================================================================

func TestReconciler_MemoHintTargetsPeriod(t *testing.T) {
	// GIVEN: Two periods labelled 2021-2022 and 2022-2023
	// WHEN: A leave memo says "periodo 2022-2023"
	// THEN: The newer period is charged although the older one has room

	r, mem := newReconciler(t)
	withTwoYears(t, r)

	ev := storetest.Event(emp, "e1", date(2023, time.June, 1), 5)
	ev.Memo = "vacaciones periodo 2022-2023"
	_, err := r.RecordEvent(context.Background(), ev)
	require.NoError(t, err)

	assertStored(t, mem, "p1", 0, generic.StatusUnconsumed)
	assertStored(t, mem, "p2", 5, generic.StatusPartiallyConsumed)

	stored, err := mem.GetEvent(context.Background(), emp, "e1")
	require.NoError(t, err)
	assert.Nil(t, stored.Hint, "memo is parsed at reconcile time, not persisted as a hint")
}

func TestReconciler_UnresolvedHintLoggedAndCounted(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mem := store.NewMemory()
	r := timeoff.NewReconciler(mem, nil, nil, zap.New(core))
	r.Now = ticking()
	withTwoYears(t, r)

	ev := storetest.Event(emp, "e1", date(2023, time.June, 1), 5)
	ev.Memo = "periodo 2030-2031"
	result, err := r.RecordEvent(context.Background(), ev)
	require.NoError(t, err)

	require.Len(t, result.DiagnosticsOf(generic.DiagnosticUnresolvedHint), 1)
	assertStored(t, mem, "p1", 5, generic.StatusPartiallyConsumed)
	assert.Equal(t, 1, runs(t, mem)[0].UnresolvedHints)
	assert.Equal(t, 1, logs.FilterMessage("unresolved target period hint").Len())
}

func TestReconciler_OverflowPersistedAndWarned(t *testing.T) {
	// GIVEN: 30 days of entitlement
	// WHEN: 35 days are taken
	// THEN: Both periods are full, 5 overflow days sit on the last one

	core, logs := observer.New(zap.InfoLevel)
	mem := store.NewMemory()
	r := timeoff.NewReconciler(mem, nil, nil, zap.New(core))
	r.Now = ticking()
	withTwoYears(t, r)

	result, err := r.RecordEvent(context.Background(), storetest.Event(emp, "e1", date(2023, time.June, 1), 35))
	require.NoError(t, err)
	assert.True(t, result.Overflow)

	assertStored(t, mem, "p1", 15, generic.StatusFullyConsumed)
	assertStored(t, mem, "p2", 15, generic.StatusFullyConsumed)
	assert.Equal(t, "5", storedPeriod(t, mem, "p2").OverflowDays.String())
	assert.Equal(t, "0", storedPeriod(t, mem, "p1").OverflowDays.String())

	run := runs(t, mem)[0]
	assert.True(t, run.Overflow)
	assert.Equal(t, "5", run.OverflowDays.String())
	assert.Contains(t, run.Diagnostics, `"code":"overflow"`)

	warned := logs.FilterMessage("consumption exceeds total entitlement").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zap.WarnLevel, warned[0].Level)
}

func TestReconciler_FailedRunPersistsNothing(t *testing.T) {
	// GIVEN: A corrupt period written straight to the store (fractional entitlement)
	// WHEN: Reconciling
	// THEN: The run fails, is recorded as failed, and stored totals are untouched

	r, mem := newReconciler(t)
	ctx := context.Background()

	bad := storetest.Period(emp, "p1", 2021, 15)
	bad.EntitledDays = generic.MustParseDays("14.5")
	require.NoError(t, mem.SavePeriod(ctx, bad))
	require.NoError(t, mem.SaveEvent(ctx, storetest.Event(emp, "e1", date(2022, time.June, 1), 3)))

	_, err := r.Reconcile(ctx, emp, generic.TriggerManual)
	require.ErrorIs(t, err, generic.ErrInvalidPeriod)

	assertStored(t, mem, "p1", 0, generic.StatusUnconsumed)
	all := runs(t, mem)
	require.Len(t, all, 1)
	assert.Equal(t, generic.RunFailed, all[0].Status)
	assert.Equal(t, generic.TriggerManual, all[0].Trigger)
	assert.NotEmpty(t, all[0].Error)
}

func TestReconciler_FailedChangeIsNotCommitted(t *testing.T) {
	// GIVEN: A corrupt period already stored
	// WHEN: A valid event is recorded
	// THEN: The engine rejects the run and the event is never saved

	r, mem := newReconciler(t)
	ctx := context.Background()

	bad := storetest.Period(emp, "p1", 2021, 15)
	bad.ConsumedDays = generic.Days(20)
	require.NoError(t, mem.SavePeriod(ctx, bad))

	_, err := r.RecordEvent(ctx, storetest.Event(emp, "e1", date(2022, time.June, 1), 3))
	require.Error(t, err)

	events, err := mem.ListApprovedEvents(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// =============================================================================
// READ PATHS
// =============================================================================

func TestReconciler_PreviewDoesNotPersist(t *testing.T) {
	r, mem := newReconciler(t)
	ctx := context.Background()

	require.NoError(t, mem.SavePeriod(ctx, storetest.Period(emp, "p1", 2021, 15)))
	require.NoError(t, mem.SaveEvent(ctx, storetest.Event(emp, "e1", date(2022, time.June, 1), 4)))

	result, err := r.Preview(ctx, emp)
	require.NoError(t, err)

	p1, ok := result.Period("p1")
	require.True(t, ok)
	assert.Equal(t, "4", p1.ConsumedDays.String())
	assertStored(t, mem, "p1", 0, generic.StatusUnconsumed)
	assert.Empty(t, runs(t, mem))
}

func TestReconciler_Balance(t *testing.T) {
	r, _ := newReconciler(t)
	withTwoYears(t, r)

	_, err := r.RecordEvent(context.Background(), storetest.Event(emp, "e1", date(2023, time.June, 1), 20))
	require.NoError(t, err)

	b, err := r.Balance(context.Background(), emp)
	require.NoError(t, err)

	assert.Equal(t, emp, b.EmployeeID)
	assert.Equal(t, "30", b.TotalEntitled.String())
	assert.Equal(t, "20", b.TotalConsumed.String())
	assert.Equal(t, "10", b.Owed.String())
	assert.Equal(t, 1, b.OpenPeriods)
	assert.Equal(t, generic.PeriodID("p2"), b.OldestOpen)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestReconciler_SavePeriodDiscardsCallerTotals(t *testing.T) {
	r, mem := newReconciler(t)

	p := storetest.Period(emp, "p1", 2021, 15)
	p.ConsumedDays = generic.Days(7)
	p.Status = generic.StatusPartiallyConsumed
	_, err := r.SavePeriod(context.Background(), p)
	require.NoError(t, err)

	assertStored(t, mem, "p1", 0, generic.StatusUnconsumed)
}

func TestReconciler_SavePeriodShrinksEntitlement(t *testing.T) {
	// GIVEN: 20 days consumed over two periods
	// WHEN: The first period is corrected down to 10 days
	// THEN: The displaced days move to the second period

	r, mem := newReconciler(t)
	withTwoYears(t, r)
	ctx := context.Background()

	_, err := r.RecordEvent(ctx, storetest.Event(emp, "e1", date(2023, time.June, 1), 20))
	require.NoError(t, err)

	_, err = r.SavePeriod(ctx, storetest.Period(emp, "p1", 2021, 10))
	require.NoError(t, err)

	assertStored(t, mem, "p1", 10, generic.StatusFullyConsumed)
	assertStored(t, mem, "p2", 10, generic.StatusPartiallyConsumed)
}

func TestReconciler_SavePeriodInvalid(t *testing.T) {
	r, mem := newReconciler(t)

	p := storetest.Period(emp, "p1", 2021, 15)
	p.End = p.Start.AddDays(-1)
	_, err := r.SavePeriod(context.Background(), p)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	periods, err := mem.ListPeriods(context.Background(), emp)
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestReconciler_GeneratePeriodsAddsOnlyMissing(t *testing.T) {
	// GIVEN: An employee hired 2020-03-01 whose first year is already stored
	// WHEN: Generating as of 2022-03-01
	// THEN: Only the second year is created; a repeat call creates nothing

	r, mem := newReconciler(t)
	ctx := context.Background()
	accrual := &timeoff.AnniversaryAccrual{HireDate: date(2020, time.March, 1), DaysPerYear: timeoff.Regime15}

	first := storetest.Period(emp, string(timeoff.PeriodIDFor(emp, date(2020, time.March, 1))), 2020, 15)
	_, err := r.SavePeriod(ctx, first)
	require.NoError(t, err)

	created, result, err := r.GeneratePeriods(ctx, emp, accrual, date(2022, time.March, 1))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, timeoff.PeriodIDFor(emp, date(2021, time.March, 1)), created[0].ID)
	require.NotNil(t, result)
	assert.Len(t, result.Periods, 2)

	periods, err := mem.ListPeriods(ctx, emp)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	created, result, err = r.GeneratePeriods(ctx, emp, accrual, date(2022, time.March, 1))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Nil(t, result)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestReconciler_LockTimeout(t *testing.T) {
	mem := store.NewMemory()
	locker := lock.NewKeyedMutex()
	r := timeoff.NewReconciler(mem, locker, nil, nil)
	r.LockTimeout = 20 * time.Millisecond

	release, err := locker.Lock(context.Background(), lock.EmployeeKey(emp))
	require.NoError(t, err)
	defer release()

	_, err = r.Reconcile(context.Background(), emp, generic.TriggerManual)
	assert.ErrorIs(t, err, generic.ErrLockUnavailable)
	assert.Empty(t, runs(t, mem))
}

func TestReconciler_ConcurrentEventsAllCounted(t *testing.T) {
	// GIVEN: Ten one-day leaves recorded concurrently
	// THEN: None is lost; the stored total is 10

	r, mem := newReconciler(t)
	withTwoYears(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := storetest.Event(emp, fmt.Sprintf("e%02d", i), date(2023, time.June, 1+i), 1)
			_, err := r.RecordEvent(context.Background(), ev)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assertStored(t, mem, "p1", 10, generic.StatusPartiallyConsumed)
}

// gateLocker holds every Lock call until open is closed, so callers can be
// lined up behind the employee lock before any of them runs.
type gateLocker struct {
	inner   lock.Locker
	arrived chan struct{}
	open    chan struct{}
}

func newGateLocker(callers int) *gateLocker {
	return &gateLocker{
		inner:   lock.NewKeyedMutex(),
		arrived: make(chan struct{}, callers),
		open:    make(chan struct{}),
	}
}

func (g *gateLocker) Lock(ctx context.Context, key string) (func(), error) {
	g.arrived <- struct{}{}
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Lock(ctx, key)
}

// race starts every call, waits until all are queued on the lock, then
// releases them and returns their errors in call order.
func (g *gateLocker) race(t *testing.T, calls ...func() error) []error {
	t.Helper()
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call func() error) {
			defer wg.Done()
			errs[i] = call()
		}(i, call)
	}
	for range calls {
		select {
		case <-g.arrived:
		case <-time.After(time.Second):
			t.Fatal("callers never reached the lock")
		}
	}
	close(g.open)
	wg.Wait()
	return errs
}

func seedPeriods(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SavePeriod(ctx, storetest.Period(emp, "p1", 2021, 15)))
	require.NoError(t, mem.SavePeriod(ctx, storetest.Period(emp, "p2", 2022, 15)))
}

func TestReconciler_SameEventIDRecordedConcurrently(t *testing.T) {
	// GIVEN: Two approvals carrying the same event id, both queued on the lock
	// WHEN: They are released together
	// THEN: One is stored, the other fails with ErrEventExists; nothing is silently dropped

	mem := store.NewMemory()
	seedPeriods(t, mem)
	gate := newGateLocker(2)
	r := timeoff.NewReconciler(mem, gate, nil, nil)
	ctx := context.Background()

	short := storetest.Event(emp, "leave-1", date(2023, time.June, 1), 3)
	long := storetest.Event(emp, "leave-1", date(2023, time.June, 1), 7)

	errs := gate.race(t,
		func() error { _, err := r.RecordEvent(ctx, short); return err },
		func() error { _, err := r.RecordEvent(ctx, long); return err },
	)

	var stored generic.ConsumptionEvent
	switch {
	case errs[0] == nil:
		assert.ErrorIs(t, errs[1], generic.ErrEventExists)
		stored = short
	case errs[1] == nil:
		assert.ErrorIs(t, errs[0], generic.ErrEventExists)
		stored = long
	default:
		t.Fatalf("both approvals failed: %v, %v", errs[0], errs[1])
	}

	events, err := mem.ListApprovedEvents(ctx, emp)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stored.DaysConsumed.String(), events[0].DaysConsumed.String())
	assertStored(t, mem, "p1", stored.DaysConsumed.IntPart(), generic.StatusPartiallyConsumed)
}

func TestReconciler_CorrectionRacingCancellation(t *testing.T) {
	// GIVEN: An approved event, a correction and a cancellation queued on the lock
	// WHEN: They are released together
	// THEN: In either order the event ends cancelled and its days are returned

	mem := store.NewMemory()
	seedPeriods(t, mem)
	ctx := context.Background()
	require.NoError(t, mem.SaveEvent(ctx, storetest.Event(emp, "leave-1", date(2023, time.June, 1), 2)))

	gate := newGateLocker(2)
	r := timeoff.NewReconciler(mem, gate, nil, nil)

	corrected := storetest.Event(emp, "leave-1", date(2023, time.June, 1), 4)
	errs := gate.race(t,
		func() error { _, err := r.CorrectEvent(ctx, corrected); return err },
		func() error { _, err := r.CancelEvent(ctx, emp, "leave-1"); return err },
	)

	if errs[0] != nil {
		assert.ErrorIs(t, errs[0], generic.ErrEventNotFound, "correction after cancellation")
	}
	assert.NoError(t, errs[1])

	events, err := mem.ListApprovedEvents(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = mem.GetEvent(ctx, emp, "leave-1")
	assert.ErrorIs(t, err, generic.ErrEventNotFound)
	assertStored(t, mem, "p1", 0, generic.StatusUnconsumed)
}
