// Package metrics exposes reconciliation and HTTP health signals to Prometheus.
//
// Every method is nil-safe so components can run without instrumentation
// (tests, one-off tools) by passing a nil *Metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/warp/accrual-engine/generic"
)

const namespace = "accrual"

// Outcome labels for reconciliation runs.
const (
	OutcomeCompleted       = "completed"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeLockUnavailable = "lock_unavailable"
	OutcomeStoreError      = "store_error"
)

type Metrics struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	overflowRuns    prometheus.Counter
	overflowDays    prometheus.Counter
	unresolvedHints prometheus.Counter
	lockWait        prometheus.Histogram
	sweepEmployees  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on reg. Use a fresh prometheus.NewRegistry()
// per test to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Wall time of one read-compute-persist cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		overflowRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_runs_total",
			Help:      "Completed runs where consumption exceeded total entitlement.",
		}),
		overflowDays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_days_total",
			Help:      "Days of consumption no period could absorb, summed over runs.",
		}),
		unresolvedHints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_hints_total",
			Help:      "Target period hints that matched no single period.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "employee_lock_wait_seconds",
			Help:      "Time spent waiting for the per-employee lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		sweepEmployees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_employees_total",
			Help:      "Employees processed by scheduled sweeps.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.runs, m.runDuration, m.overflowRuns, m.overflowDays, m.unresolvedHints,
		m.lockWait, m.sweepEmployees, m.httpRequests, m.httpDuration,
	)
	return m
}

// ClassifyRunError maps a reconciliation error to an outcome label.
func ClassifyRunError(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case generic.IsClientError(err):
		return OutcomeInvalidInput
	case errors.Is(err, generic.ErrLockUnavailable):
		return OutcomeLockUnavailable
	default:
		return OutcomeStoreError
	}
}

// ObserveRun records one run. result may be nil when err is set.
func (m *Metrics) ObserveRun(trigger generic.RunTrigger, result *generic.ReconciliationResult, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(trigger), ClassifyRunError(err)).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(took.Seconds())
	if err != nil || result == nil {
		return
	}
	if result.Overflow {
		m.overflowRuns.Inc()
		m.overflowDays.Add(daysFloat(result.OverflowDays))
	}
	if n := len(result.DiagnosticsOf(generic.DiagnosticUnresolvedHint)); n > 0 {
		m.unresolvedHints.Add(float64(n))
	}
}

func (m *Metrics) ObserveLockWait(took time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(took.Seconds())
}

// ObserveSweep counts one employee handled by a scheduled sweep.
func (m *Metrics) ObserveSweep(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepEmployees.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func daysFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
