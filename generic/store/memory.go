// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/accrual-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	periods map[generic.EmployeeID]map[generic.PeriodID]generic.EarnedPeriod
	events  map[generic.EmployeeID]map[generic.EventID]storedEvent
	runs    []generic.ReconciliationRun
}

type storedEvent struct {
	event  generic.ConsumptionEvent
	status generic.EventStatus
}

var _ generic.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		periods: make(map[generic.EmployeeID]map[generic.PeriodID]generic.EarnedPeriod),
		events:  make(map[generic.EmployeeID]map[generic.EventID]storedEvent),
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func (m *Memory) ListPeriods(_ context.Context, employeeID generic.EmployeeID) ([]generic.EarnedPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.EarnedPeriod, 0, len(m.periods[employeeID]))
	for _, p := range m.periods[employeeID] {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].Start.Compare(result[j].Start); c != 0 {
			return c < 0
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) SavePeriod(_ context.Context, period generic.EarnedPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.periods[period.EmployeeID]
	if byID == nil {
		byID = make(map[generic.PeriodID]generic.EarnedPeriod)
		m.periods[period.EmployeeID] = byID
	}
	byID[period.ID] = period
	return nil
}

// ApplyPeriodUpdates checks every target first so a bad update writes nothing.
func (m *Memory) ApplyPeriodUpdates(_ context.Context, employeeID generic.EmployeeID, updates []generic.PeriodUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.periods[employeeID]
	for _, u := range updates {
		if _, ok := byID[u.PeriodID]; !ok {
			return generic.ErrPeriodNotFound
		}
	}
	for _, u := range updates {
		p := byID[u.PeriodID]
		p.ConsumedDays = u.ConsumedDays
		p.OverflowDays = u.OverflowDays
		p.Status = u.Status
		byID[u.PeriodID] = p
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) ListApprovedEvents(_ context.Context, employeeID generic.EmployeeID) ([]generic.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.ConsumptionEvent
	for _, se := range m.events[employeeID] {
		if se.status == generic.EventApproved {
			result = append(result, copyEvent(se.event))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if c := result[i].EventDate.Compare(result[j].EventDate); c != 0 {
			return c < 0
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) SaveEvent(_ context.Context, event generic.ConsumptionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.events[event.EmployeeID]
	if byID == nil {
		byID = make(map[generic.EventID]storedEvent)
		m.events[event.EmployeeID] = byID
	}
	byID[event.ID] = storedEvent{event: copyEvent(event), status: generic.EventApproved}
	return nil
}

func (m *Memory) GetEvent(_ context.Context, employeeID generic.EmployeeID, id generic.EventID) (generic.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	se, ok := m.events[employeeID][id]
	if !ok || se.status != generic.EventApproved {
		return generic.ConsumptionEvent{}, generic.ErrEventNotFound
	}
	return copyEvent(se.event), nil
}

func (m *Memory) CancelEvent(_ context.Context, employeeID generic.EmployeeID, id generic.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	se, ok := m.events[employeeID][id]
	if !ok || se.status != generic.EventApproved {
		return generic.ErrEventNotFound
	}
	se.status = generic.EventCancelled
	m.events[employeeID][id] = se
	return nil
}

// copyEvent detaches the hint pointer from the caller's copy.
func copyEvent(ev generic.ConsumptionEvent) generic.ConsumptionEvent {
	if ev.Hint != nil {
		h := *ev.Hint
		ev.Hint = &h
	}
	return ev
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run generic.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, filter generic.RunFilter) ([]generic.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.ReconciliationRun
	for _, r := range m.runs {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID > result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) ListEmployees(_ context.Context) ([]generic.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[generic.EmployeeID]bool)
	for id, ps := range m.periods {
		if len(ps) > 0 {
			seen[id] = true
		}
	}
	for id, evs := range m.events {
		if len(evs) > 0 {
			seen[id] = true
		}
	}
	result := make([]generic.EmployeeID, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}
