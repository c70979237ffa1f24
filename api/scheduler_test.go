package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accrual-engine/api"
	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/generic/store"
	"github.com/warp/accrual-engine/generic/storetest"
	"github.com/warp/accrual-engine/metrics"
	"github.com/warp/accrual-engine/timeoff"
)

func newScheduler(t *testing.T) (*api.Scheduler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.New(prometheus.NewRegistry())
	reconciler := timeoff.NewReconciler(mem, nil, m, nil)
	return api.NewScheduler(reconciler, mem, m, nil), mem
}

func seed(t *testing.T, mem *store.Memory, emp generic.EmployeeID, days int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SavePeriod(ctx, storetest.Period(emp, "p1", 2021, 15)))
	require.NoError(t, mem.SaveEvent(ctx, storetest.Event(emp, "e1", generic.NewTimePoint(2022, time.June, 6), days)))
}

func scheduledRuns(t *testing.T, mem *store.Memory) []generic.ReconciliationRun {
	t.Helper()
	var out []generic.ReconciliationRun
	all, err := mem.ListRuns(context.Background(), generic.RunFilter{})
	require.NoError(t, err)
	for _, run := range all {
		if run.Trigger == generic.TriggerScheduled {
			out = append(out, run)
		}
	}
	return out
}

func TestScheduler_SweepReconcilesEveryEmployee(t *testing.T) {
	// GIVEN: Three employees, one in overflow and one with invalid stored data
	// WHEN: A sweep runs
	// THEN: Every employee gets a run; the broken one is counted, not fatal

	s, mem := newScheduler(t)
	s.Workers = 2
	seed(t, mem, "alice", 10)
	seed(t, mem, "bob", 20)
	seed(t, mem, "carol", 5)
	require.NoError(t, mem.SaveEvent(context.Background(), storetest.Event("carol", "zero", generic.NewTimePoint(2022, time.July, 1), 0)))

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Employees)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []generic.EmployeeID{"bob"}, result.Overflow)

	runs := scheduledRuns(t, mem)
	require.Len(t, runs, 3)
	failed, err := mem.ListRuns(context.Background(), generic.RunFilter{EmployeeID: "carol", Status: generic.RunFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	periods, err := mem.ListPeriods(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "10", periods[0].ConsumedDays.String())
}

func TestScheduler_SweepWithNoEmployees(t *testing.T) {
	s, _ := newScheduler(t)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.SweepResult{}, result)
}

type failingLister struct{}

func (failingLister) ListEmployees(context.Context) ([]generic.EmployeeID, error) {
	return nil, errors.New("connection refused")
}

func TestScheduler_SweepListFailure(t *testing.T) {
	mem := store.NewMemory()
	s := api.NewScheduler(timeoff.NewReconciler(mem, nil, nil, nil), failingLister{}, nil, nil)

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	s, mem := newScheduler(t)
	s.Interval = time.Hour
	seed(t, mem, "alice", 3)

	s.Start()
	s.Start()

	assert.Eventually(t, func() bool {
		return len(scheduledRuns(t, mem)) == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Len(t, scheduledRuns(t, mem), 1)
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	s, mem := newScheduler(t)
	s.Interval = 10 * time.Millisecond
	seed(t, mem, "alice", 3)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(scheduledRuns(t, mem)) >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	s, mem := newScheduler(t)
	s.Enabled = false
	s.Interval = time.Millisecond
	seed(t, mem, "alice", 3)

	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.Empty(t, scheduledRuns(t, mem))
}
