/*
service.go - The read-compute-persist cycle for one employee

PURPOSE:
  Reconciler is the only writer of consumed totals. Every operation that can
  change allocation (new leave, correction, cancellation, new or edited
  period) runs the full cycle under the employee's lock:

    1. Lock employee
    2. Load periods + approved events
    3. Apply the pending change in memory
    4. Resolve memo hints, run the engine
    5. On success: persist the change, then the period totals
    6. Record the run (completed or failed)

  If the engine rejects the input nothing is written: the change is never
  persisted and the stored totals stay as they were.

CONCURRENCY:
  Different employees proceed in parallel. The same employee is serialized
  by lock.Locker, so an approval arriving mid-run waits for the next cycle
  instead of being dropped.

SEE ALSO:
  - generic/engine.go: Reconcile
  - lock/lock.go: Locker implementations
  - api/scheduler.go: Periodic sweep calling Reconcile
*/
package timeoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/lock"
	"github.com/warp/accrual-engine/metrics"
)

type Reconciler struct {
	store   generic.Store
	locker  lock.Locker
	engine  *generic.ReconciliationEngine
	metrics *metrics.Metrics
	log     *zap.Logger

	// LockTimeout bounds the wait for the employee lock; zero waits on ctx only.
	LockTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

// NewReconciler wires a Reconciler. locker, m and log may be nil.
func NewReconciler(store generic.Store, locker lock.Locker, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:   store,
		locker:  locker,
		engine:  &generic.ReconciliationEngine{},
		metrics: m,
		log:     log.Named("reconciler"),
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   uuid.NewString,
	}
}

// change is a pending mutation applied in memory before the engine runs and
// persisted by commit only if the engine accepts the result. check runs first,
// under the employee lock, against the stored state.
type change struct {
	check   func(ctx context.Context) error
	periods func([]generic.EarnedPeriod) []generic.EarnedPeriod
	events  func([]generic.ConsumptionEvent) []generic.ConsumptionEvent
	commit  func(ctx context.Context) error
}

// =============================================================================
// RECONCILE / PREVIEW
// =============================================================================

// Reconcile recomputes and persists the employee's period totals.
func (r *Reconciler) Reconcile(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger) (*generic.ReconciliationResult, error) {
	return r.locked(ctx, employeeID, trigger, change{})
}

// Preview runs the engine on current data without persisting anything.
func (r *Reconciler) Preview(ctx context.Context, employeeID generic.EmployeeID) (*generic.ReconciliationResult, error) {
	periods, events, err := r.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return r.engine.Reconcile(periods, withMemoHints(events))
}

// Balance summarizes a preview.
func (r *Reconciler) Balance(ctx context.Context, employeeID generic.EmployeeID) (generic.Balance, error) {
	result, err := r.Preview(ctx, employeeID)
	if err != nil {
		return generic.Balance{}, err
	}
	b := generic.Summarize(result)
	b.EmployeeID = employeeID
	return b, nil
}

// =============================================================================
// EVENTS
// =============================================================================

// RecordEvent stores a newly approved event and reconciles.
func (r *Reconciler) RecordEvent(ctx context.Context, ev generic.ConsumptionEvent) (*generic.ReconciliationResult, error) {
	if err := r.checkEvent(ev); err != nil {
		return nil, err
	}
	return r.locked(ctx, ev.EmployeeID, generic.TriggerEvent, change{
		check: func(ctx context.Context) error {
			return r.absent(ctx, ev.EmployeeID, ev.ID)
		},
		events: func(events []generic.ConsumptionEvent) []generic.ConsumptionEvent {
			return upsertEvent(events, ev)
		},
		commit: func(ctx context.Context) error {
			return r.store.SaveEvent(ctx, ev)
		},
	})
}

// RecordRequest converts an approved leave request and records it.
func (r *Reconciler) RecordRequest(ctx context.Context, req LeaveRequest) (*generic.ReconciliationResult, error) {
	ev, err := req.ToConsumptionEvent()
	if err != nil {
		return nil, err
	}
	return r.RecordEvent(ctx, ev)
}

// CorrectEvent replaces an approved event (days, dates, memo or hint) and
// recomputes everything from scratch.
func (r *Reconciler) CorrectEvent(ctx context.Context, ev generic.ConsumptionEvent) (*generic.ReconciliationResult, error) {
	if err := r.checkEvent(ev); err != nil {
		return nil, err
	}
	return r.locked(ctx, ev.EmployeeID, generic.TriggerEvent, change{
		check: func(ctx context.Context) error {
			return r.approved(ctx, ev.EmployeeID, ev.ID)
		},
		events: func(events []generic.ConsumptionEvent) []generic.ConsumptionEvent {
			return upsertEvent(events, ev)
		},
		commit: func(ctx context.Context) error {
			return r.store.SaveEvent(ctx, ev)
		},
	})
}

// CancelEvent withdraws an approved event; its days return to the periods.
func (r *Reconciler) CancelEvent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) (*generic.ReconciliationResult, error) {
	return r.locked(ctx, employeeID, generic.TriggerEvent, change{
		check: func(ctx context.Context) error {
			return r.approved(ctx, employeeID, id)
		},
		events: func(events []generic.ConsumptionEvent) []generic.ConsumptionEvent {
			out := events[:0:0]
			for _, e := range events {
				if e.ID != id {
					out = append(out, e)
				}
			}
			return out
		},
		commit: func(ctx context.Context) error {
			return r.store.CancelEvent(ctx, employeeID, id)
		},
	})
}

func (r *Reconciler) checkEvent(ev generic.ConsumptionEvent) error {
	if ev.EmployeeID == "" {
		return &generic.InvalidEventError{EventID: ev.ID, Reason: "employee id is required"}
	}
	return generic.ValidateEvent(ev)
}

// absent fails with ErrEventExists when id is already approved.
func (r *Reconciler) absent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) error {
	_, err := r.store.GetEvent(ctx, employeeID, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", generic.ErrEventExists, id)
	case generic.IsNotFound(err):
		return nil
	default:
		return fmt.Errorf("get event %s: %w", id, err)
	}
}

// approved fails with ErrEventNotFound unless id is currently approved.
func (r *Reconciler) approved(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) error {
	if _, err := r.store.GetEvent(ctx, employeeID, id); err != nil {
		if generic.IsNotFound(err) {
			return fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
		}
		return fmt.Errorf("get event %s: %w", id, err)
	}
	return nil
}

func upsertEvent(events []generic.ConsumptionEvent, ev generic.ConsumptionEvent) []generic.ConsumptionEvent {
	out := make([]generic.ConsumptionEvent, 0, len(events)+1)
	for _, e := range events {
		if e.ID != ev.ID {
			out = append(out, e)
		}
	}
	return append(out, ev)
}

// =============================================================================
// PERIODS
// =============================================================================

// SavePeriod creates or corrects a period. Consumed totals supplied by the
// caller are discarded; the engine recomputes them.
func (r *Reconciler) SavePeriod(ctx context.Context, p generic.EarnedPeriod) (*generic.ReconciliationResult, error) {
	p.ConsumedDays = generic.Days(0)
	p.OverflowDays = generic.Days(0)
	p.Status = generic.StatusFor(p.ConsumedDays, p.EntitledDays)

	if p.EmployeeID == "" {
		return nil, &generic.InvalidPeriodError{PeriodID: p.ID, Reason: "employee id is required"}
	}
	if err := generic.ValidatePeriod(p); err != nil {
		return nil, err
	}

	return r.locked(ctx, p.EmployeeID, generic.TriggerPeriod, change{
		periods: func(periods []generic.EarnedPeriod) []generic.EarnedPeriod {
			return upsertPeriods(periods, p)
		},
		commit: func(ctx context.Context) error {
			return r.store.SavePeriod(ctx, p)
		},
	})
}

// GeneratePeriods adds the periods schedule owes the employee as of asOf and
// reconciles. Existing periods are left untouched. With nothing to add it
// returns (nil, nil, nil) without running a reconciliation.
func (r *Reconciler) GeneratePeriods(ctx context.Context, employeeID generic.EmployeeID, schedule generic.AccrualSchedule, asOf generic.TimePoint) ([]generic.EarnedPeriod, *generic.ReconciliationResult, error) {
	var created []generic.EarnedPeriod

	result, err := r.withLock(ctx, employeeID, generic.TriggerPeriod, func(ctx context.Context) (*generic.ReconciliationResult, error) {
		existing, err := r.store.ListPeriods(ctx, employeeID)
		if err != nil {
			return nil, fmt.Errorf("list periods: %w", err)
		}
		created = generic.MissingPeriods(schedule.PeriodsThrough(employeeID, asOf), existing)
		if len(created) == 0 {
			return nil, nil
		}

		return r.run(ctx, employeeID, generic.TriggerPeriod, change{
			periods: func(periods []generic.EarnedPeriod) []generic.EarnedPeriod {
				return upsertPeriods(periods, created...)
			},
			commit: func(ctx context.Context) error {
				for _, p := range created {
					if err := r.store.SavePeriod(ctx, p); err != nil {
						return fmt.Errorf("save period %s: %w", p.ID, err)
					}
				}
				return nil
			},
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return created, result, nil
}

func upsertPeriods(periods []generic.EarnedPeriod, add ...generic.EarnedPeriod) []generic.EarnedPeriod {
	replace := make(map[generic.PeriodID]bool, len(add))
	for _, p := range add {
		replace[p.ID] = true
	}
	out := make([]generic.EarnedPeriod, 0, len(periods)+len(add))
	for _, p := range periods {
		if !replace[p.ID] {
			out = append(out, p)
		}
	}
	return append(out, add...)
}

// =============================================================================
// CYCLE
// =============================================================================

func (r *Reconciler) locked(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger, ch change) (*generic.ReconciliationResult, error) {
	return r.withLock(ctx, employeeID, trigger, func(ctx context.Context) (*generic.ReconciliationResult, error) {
		return r.run(ctx, employeeID, trigger, ch)
	})
}

func (r *Reconciler) withLock(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger, fn func(context.Context) (*generic.ReconciliationResult, error)) (*generic.ReconciliationResult, error) {
	lockCtx := ctx
	if r.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, r.LockTimeout)
		defer cancel()
	}

	waitStart := time.Now()
	release, err := r.locker.Lock(lockCtx, lock.EmployeeKey(employeeID))
	r.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		r.metrics.ObserveRun(trigger, nil, err, time.Since(waitStart))
		r.log.Warn("employee lock unavailable",
			zap.String("employee_id", string(employeeID)),
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		return nil, err
	}
	defer release()

	return fn(ctx)
}

// run assumes the employee lock is held. A rejected check records no run.
func (r *Reconciler) run(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger, ch change) (*generic.ReconciliationResult, error) {
	if ch.check != nil {
		if err := ch.check(ctx); err != nil {
			return nil, err
		}
	}
	started := r.Now()

	periods, events, err := r.load(ctx, employeeID)
	if err != nil {
		return nil, r.fail(ctx, employeeID, trigger, started, err)
	}
	if ch.periods != nil {
		periods = ch.periods(periods)
	}
	if ch.events != nil {
		events = ch.events(events)
	}

	result, err := r.engine.Reconcile(periods, withMemoHints(events))
	if err != nil {
		return nil, r.fail(ctx, employeeID, trigger, started, err)
	}

	if ch.commit != nil {
		if err := ch.commit(ctx); err != nil {
			return nil, r.fail(ctx, employeeID, trigger, started, err)
		}
	}
	if err := r.store.ApplyPeriodUpdates(ctx, employeeID, result.Updates()); err != nil {
		return nil, r.fail(ctx, employeeID, trigger, started, fmt.Errorf("persist period updates: %w", err))
	}

	r.complete(ctx, employeeID, trigger, started, result)
	return result, nil
}

func (r *Reconciler) load(ctx context.Context, employeeID generic.EmployeeID) ([]generic.EarnedPeriod, []generic.ConsumptionEvent, error) {
	periods, err := r.store.ListPeriods(ctx, employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("list periods: %w", err)
	}
	events, err := r.store.ListApprovedEvents(ctx, employeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("list events: %w", err)
	}
	return periods, events, nil
}

func (r *Reconciler) complete(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger, started time.Time, result *generic.ReconciliationResult) {
	unresolved := result.DiagnosticsOf(generic.DiagnosticUnresolvedHint)
	diags := result.Diagnostics
	if diags == nil {
		diags = []generic.Diagnostic{}
	}
	diagnostics, _ := json.Marshal(diags)

	run := generic.ReconciliationRun{
		ID:              r.NewID(),
		EmployeeID:      employeeID,
		Trigger:         trigger,
		Status:          generic.RunCompleted,
		OverflowDays:    result.OverflowDays,
		Overflow:        result.Overflow,
		UnresolvedHints: len(unresolved),
		Diagnostics:     string(diagnostics),
		StartedAt:       started,
		CompletedAt:     r.Now(),
	}
	r.saveRun(ctx, run)
	r.metrics.ObserveRun(trigger, result, nil, run.CompletedAt.Sub(started))

	log := r.log.With(zap.String("employee_id", string(employeeID)), zap.String("run_id", run.ID))
	if result.Overflow {
		log.Warn("consumption exceeds total entitlement",
			zap.String("overflow_days", result.OverflowDays.String()))
	}
	for _, d := range unresolved {
		log.Info("unresolved target period hint",
			zap.String("event_id", string(d.EventID)),
			zap.String("detail", d.Detail))
	}
	log.Info("reconciliation completed",
		zap.String("trigger", string(trigger)),
		zap.Int("periods", len(result.Periods)),
		zap.Duration("took", run.CompletedAt.Sub(started)))
}

func (r *Reconciler) fail(ctx context.Context, employeeID generic.EmployeeID, trigger generic.RunTrigger, started time.Time, err error) error {
	run := generic.ReconciliationRun{
		ID:           r.NewID(),
		EmployeeID:   employeeID,
		Trigger:      trigger,
		Status:       generic.RunFailed,
		OverflowDays: generic.Days(0),
		Diagnostics:  "[]",
		Error:        err.Error(),
		StartedAt:    started,
		CompletedAt:  r.Now(),
	}
	r.saveRun(ctx, run)
	r.metrics.ObserveRun(trigger, nil, err, run.CompletedAt.Sub(started))

	r.log.Warn("reconciliation failed",
		zap.String("employee_id", string(employeeID)),
		zap.String("run_id", run.ID),
		zap.String("trigger", string(trigger)),
		zap.Error(err))
	return err
}

func (r *Reconciler) saveRun(ctx context.Context, run generic.ReconciliationRun) {
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.log.Error("failed to record reconciliation run",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}
