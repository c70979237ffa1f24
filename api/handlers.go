/*
handlers.go - HTTP API handlers for leave reconciliation

PURPOSE:
  Exposes the Reconciler over REST. Handles HTTP request/response and JSON
  serialization and delegates every write to timeoff.Reconciler, which
  reconciles before answering.

ENDPOINTS:
  Employees:
    GET    /api/employees                                   List known employees

  Periods:
    GET    /api/employees/{id}/periods                      Stored periods
    POST   /api/employees/{id}/periods                      Create or correct a period
    POST   /api/employees/{id}/periods/generate             Add earned periods up to as_of

  Events:
    GET    /api/employees/{id}/events                       Approved events
    POST   /api/employees/{id}/events                       Record an approved leave
    PUT    /api/employees/{id}/events/{eventID}             Correct a leave
    POST   /api/employees/{id}/events/{eventID}/cancel      Cancel a leave

  Reconciliation:
    GET    /api/employees/{id}/balance                      Balance summary (cached)
    GET    /api/employees/{id}/reconciliation/preview       Dry run, nothing persisted
    POST   /api/employees/{id}/reconcile                    Manual reconciliation
    GET    /api/reconciliation/runs                         Run audit trail
    POST   /api/reconciliation/sweep                        Reconcile everyone now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON or query parameters
  - 404: Unknown event or period
  - 409: Event already recorded
  - 422: Invalid period or event (engine validation)
  - 503: Employee lock unavailable, retry later
  - 500: Internal errors

CACHING:
  Balances are cached per employee for the configured TTL and dropped on
  every write for that employee.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Reconciler *timeoff.Reconciler
	Store      generic.Store
	Scheduler  *Scheduler

	// Accrual defaults for /periods/generate.
	DaysPerYear int64
	Periods     generic.PeriodConfig

	balances *cache.Cache
	log      *zap.Logger
}

// NewHandler wires the handler. A zero cacheTTL disables the balance cache.
func NewHandler(reconciler *timeoff.Reconciler, store generic.Store, scheduler *Scheduler, cacheTTL time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		Reconciler:  reconciler,
		Store:       store,
		Scheduler:   scheduler,
		DaysPerYear: timeoff.Regime15,
		log:         log.Named("api"),
	}
	if cacheTTL > 0 {
		h.balances = cache.New(cacheTTL, 2*cacheTTL)
	}
	return h
}

func employeeID(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list employees")
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": out})
}

// =============================================================================
// PERIODS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPeriods(r.Context(), employeeID(r))
	if err != nil {
		h.writeError(w, err, "Failed to list periods")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": toPeriodDTOs(periods)})
}

func (h *Handler) SavePeriod(w http.ResponseWriter, r *http.Request) {
	var req SavePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	emp := employeeID(r)
	result, err := h.Reconciler.SavePeriod(r.Context(), generic.EarnedPeriod{
		ID:           generic.PeriodID(req.ID),
		EmployeeID:   emp,
		Start:        req.Start,
		End:          req.End,
		EntitledDays: req.EntitledDays,
	})
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Failed to save period")
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) GeneratePeriods(w http.ResponseWriter, r *http.Request) {
	var req GeneratePeriodsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.HireDate.IsZero() {
		writeErrorStatus(w, http.StatusBadRequest, "hire_date is required", nil)
		return
	}

	accrual := &timeoff.AnniversaryAccrual{
		HireDate:    req.HireDate,
		DaysPerYear: req.DaysPerYear,
		Periods:     h.Periods,
	}
	if accrual.DaysPerYear <= 0 {
		accrual.DaysPerYear = h.DaysPerYear
	}
	if req.PeriodType != "" {
		accrual.Periods = generic.PeriodConfig{
			Type:                 generic.PeriodType(req.PeriodType),
			FiscalYearStartMonth: time.Month(req.FiscalYearStartMonth),
		}
	}
	for _, tier := range req.Tiers {
		accrual.Tiers = append(accrual.Tiers, timeoff.TenureTier{AfterYears: tier.AfterYears, DaysPerYear: tier.DaysPerYear})
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = generic.Today()
	}

	emp := employeeID(r)
	created, result, err := h.Reconciler.GeneratePeriods(r.Context(), emp, accrual, asOf)
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Failed to generate periods")
		return
	}
	writeJSON(w, http.StatusOK, GeneratePeriodsDTO{Created: toPeriodDTOs(created), Result: toResultDTO(result)})
}

// =============================================================================
// EVENTS
// =============================================================================

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListApprovedEvents(r.Context(), employeeID(r))
	if err != nil {
		h.writeError(w, err, "Failed to list events")
		return
	}
	out := make([]EventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	emp := employeeID(r)
	var (
		result *generic.ReconciliationResult
		err    error
	)
	if req.countsWorkdays() && req.Hint == nil {
		result, err = h.Reconciler.RecordRequest(r.Context(), req.toLeaveRequest(emp))
	} else {
		ev := req.toEvent(emp)
		if req.countsWorkdays() {
			lr := req.toLeaveRequest(emp)
			ev.DaysConsumed = generic.Days(lr.Workdays())
		}
		result, err = h.Reconciler.RecordEvent(r.Context(), ev)
	}
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Failed to record event")
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(result))
}

func (h *Handler) CorrectEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	req.ID = chi.URLParam(r, "eventID")

	emp := employeeID(r)
	ev := req.toEvent(emp)
	if req.countsWorkdays() {
		lr := req.toLeaveRequest(emp)
		ev.DaysConsumed = generic.Days(lr.Workdays())
	}
	result, err := h.Reconciler.CorrectEvent(r.Context(), ev)
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Failed to correct event")
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	emp := employeeID(r)
	result, err := h.Reconciler.CancelEvent(r.Context(), emp, generic.EventID(chi.URLParam(r, "eventID")))
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Failed to cancel event")
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	emp := employeeID(r)
	key := balanceKey(emp)

	if h.balances != nil {
		if cached, ok := h.balances.Get(key); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	balance, err := h.Reconciler.Balance(r.Context(), emp)
	if err != nil {
		h.writeError(w, err, "Failed to compute balance")
		return
	}
	dto := toBalanceDTO(balance)
	if h.balances != nil {
		h.balances.SetDefault(key, dto)
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	result, err := h.Reconciler.Preview(r.Context(), employeeID(r))
	if err != nil {
		h.writeError(w, err, "Failed to preview reconciliation")
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	emp := employeeID(r)
	result, err := h.Reconciler.Reconcile(r.Context(), emp, generic.TriggerManual)
	h.invalidate(emp)
	if err != nil {
		h.writeError(w, err, "Reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.RunFilter{
		EmployeeID: generic.EmployeeID(q.Get("employee_id")),
		Status:     generic.RunStatus(q.Get("status")),
		Limit:      100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorStatus(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		filter.Limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeError(w, err, "Failed to list reconciliation runs")
		return
	}
	out := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	result, err := h.Scheduler.Sweep(r.Context())
	if h.balances != nil {
		h.balances.Flush()
	}
	if err != nil {
		h.writeError(w, err, "Sweep failed")
		return
	}

	dto := SweepDTO{
		Employees: result.Employees,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Overflow:  make([]string, 0, len(result.Overflow)),
	}
	for _, id := range result.Overflow {
		dto.Overflow = append(dto.Overflow, string(id))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func balanceKey(emp generic.EmployeeID) string {
	return "balance:" + string(emp)
}

func (h *Handler) invalidate(emp generic.EmployeeID) {
	if h.balances != nil {
		h.balances.Delete(balanceKey(emp))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Error(message, zap.Error(err))
	}
	writeErrorStatus(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusUnprocessableEntity
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, timeoff.ErrRequestNotApproved):
		return http.StatusConflict
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
