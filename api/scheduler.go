/*
scheduler.go - Periodic reconciliation sweep

PURPOSE:
  Reconciles every known employee on a fixed interval so stored totals
  converge even when a write path failed between commit and persist, and
  so overflow alerts surface without waiting for the next leave approval.

DESIGN:
  - Background goroutine driven by a ticker, runs once immediately on Start
  - Each sweep fans employees out to a bounded worker pool
  - Employees are independent; one failure never aborts the sweep
  - Every reconciliation records its own run (trigger "scheduled")

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Workers:  Concurrent reconciliations per sweep (default: 4)
  - Enabled:  Whether Start launches the loop

USAGE:
  scheduler := NewScheduler(reconciler, store, m, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: POST /api/reconciliation/sweep (manual sweep)
  - timeoff/service.go: Reconciler
*/
package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/metrics"
	"github.com/warp/accrual-engine/timeoff"
)

// EmployeeLister is the part of generic.Store the scheduler needs.
type EmployeeLister interface {
	ListEmployees(ctx context.Context) ([]generic.EmployeeID, error)
}

// SweepResult summarizes one pass over all employees.
type SweepResult struct {
	Employees int
	Succeeded int
	Failed    int
	Overflow  []generic.EmployeeID
}

type Scheduler struct {
	reconciler *timeoff.Reconciler
	employees  EmployeeLister
	metrics    *metrics.Metrics
	log        *zap.Logger

	Interval time.Duration
	Workers  int
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(reconciler *timeoff.Reconciler, employees EmployeeLister, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		reconciler: reconciler,
		employees:  employees,
		metrics:    m,
		log:        log.Named("scheduler"),
		Interval:   time.Hour,
		Workers:    4,
		Enabled:    true,
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.Interval),
		zap.Int("workers", s.Workers))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.Sweep(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.Sweep(ctx)
		case <-s.stop:
			return
		}
	}
}

// Sweep reconciles every employee once through the worker pool.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()

	ids, err := s.employees.ListEmployees(ctx)
	if err != nil {
		s.log.Error("sweep: failed to list employees", zap.Error(err))
		return SweepResult{}, err
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, max(len(ids), 1))

	jobs := make(chan generic.EmployeeID)
	var (
		mu     sync.Mutex
		result = SweepResult{Employees: len(ids)}
		wg     sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				res, err := s.reconciler.Reconcile(ctx, id, generic.TriggerScheduled)
				s.metrics.ObserveSweep(err)

				mu.Lock()
				switch {
				case err != nil:
					result.Failed++
					s.log.Warn("sweep: reconciliation failed",
						zap.String("employee_id", string(id)),
						zap.Error(err))
				default:
					result.Succeeded++
					if res.Overflow {
						result.Overflow = append(result.Overflow, id)
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(result.Overflow, func(i, j int) bool { return result.Overflow[i] < result.Overflow[j] })

	s.log.Info("sweep completed",
		zap.Int("employees", result.Employees),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("overflow", len(result.Overflow)),
		zap.Duration("took", time.Since(started)))
	return result, ctx.Err()
}
