/*
store.go - Persistence interfaces for periods, events and run records

PURPOSE:
  Defines the boundary between the pure engine and the database. The engine
  never sees a Store; timeoff.Reconciler loads from it, calls Reconcile and
  writes the result back.

KEY INTERFACES:
  PeriodStore: Earned periods per employee, atomic consumed-total updates
  EventStore:  Approved consumption events, corrections and cancellations
  RunStore:    Audit trail of reconciliation runs
  Store:       All of the above plus employee discovery for the scheduler

ATOMIC UPDATES:
  ApplyPeriodUpdates is all-or-nothing. If one update names an unknown
  period the call fails with ErrPeriodNotFound and nothing is written, so a
  failed run leaves the prior state untouched.

CANCELLATION:
  Events are never deleted. CancelEvent flips the status; cancelled events
  drop out of ListApprovedEvents and the next reconciliation frees their days.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: database/sql + go-sqlite3
  - store/gormstore/gormstore.go: GORM (PostgreSQL in production)

SEE ALSO:
  - generic/storetest/storetest.go: Conformance suite every implementation passes
  - timeoff/service.go: The read-compute-persist cycle
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD STORE
// =============================================================================

// PeriodUpdate is the engine-owned part of an EarnedPeriod.
type PeriodUpdate struct {
	PeriodID     PeriodID
	ConsumedDays decimal.Decimal
	OverflowDays decimal.Decimal
	Status       PeriodStatus
}

type PeriodStore interface {
	// ListPeriods returns the employee's periods ordered by Start, then ID.
	ListPeriods(ctx context.Context, employeeID EmployeeID) ([]EarnedPeriod, error)

	// SavePeriod inserts or replaces a period.
	SavePeriod(ctx context.Context, period EarnedPeriod) error

	// ApplyPeriodUpdates writes recomputed totals atomically.
	ApplyPeriodUpdates(ctx context.Context, employeeID EmployeeID, updates []PeriodUpdate) error
}

// =============================================================================
// EVENT STORE
// =============================================================================

type EventStatus string

const (
	EventApproved  EventStatus = "approved"
	EventCancelled EventStatus = "cancelled"
)

type EventStore interface {
	// ListApprovedEvents returns approved events ordered by EventDate, then ID.
	ListApprovedEvents(ctx context.Context, employeeID EmployeeID) ([]ConsumptionEvent, error)

	// SaveEvent inserts or replaces an event and marks it approved.
	SaveEvent(ctx context.Context, event ConsumptionEvent) error

	// GetEvent returns an approved event or ErrEventNotFound.
	GetEvent(ctx context.Context, employeeID EmployeeID, id EventID) (ConsumptionEvent, error)

	// CancelEvent marks an approved event cancelled. Unknown or already
	// cancelled events return ErrEventNotFound.
	CancelEvent(ctx context.Context, employeeID EmployeeID, id EventID) error
}

// =============================================================================
// RUN STORE - Audit trail, append-only
// =============================================================================

type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerEvent     RunTrigger = "event"
	TriggerPeriod    RunTrigger = "period"
	TriggerScheduled RunTrigger = "scheduled"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun records one read-compute-persist cycle.
type ReconciliationRun struct {
	ID         string
	EmployeeID EmployeeID
	Trigger    RunTrigger
	Status     RunStatus

	OverflowDays    decimal.Decimal
	Overflow        bool
	UnresolvedHints int

	// Diagnostics is the JSON encoding of the run's []Diagnostic.
	Diagnostics string
	Error       string

	StartedAt   time.Time
	CompletedAt time.Time
}

type RunFilter struct {
	EmployeeID EmployeeID // empty matches all
	Status     RunStatus  // empty matches all
	Limit      int        // <= 0 means no limit
}

// Matches reports whether run passes the filter's predicates (Limit aside).
func (f RunFilter) Matches(run ReconciliationRun) bool {
	if f.EmployeeID != "" && run.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	return true
}

type RunStore interface {
	SaveRun(ctx context.Context, run ReconciliationRun) error

	// ListRuns returns matching runs, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]ReconciliationRun, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	PeriodStore
	EventStore
	RunStore

	// ListEmployees returns every employee owning a period or an event, sorted.
	ListEmployees(ctx context.Context) ([]EmployeeID, error)
}
