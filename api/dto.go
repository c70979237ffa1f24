/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the engine's
  types from the wire contract. All fields are snake_case; dates are
  "YYYY-MM-DD"; day quantities are decimals (quoted strings on output, strings
  or numbers accepted on input).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/timeoff"
)

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	ID            string          `json:"id"`
	EmployeeID    string          `json:"employee_id"`
	Start         string          `json:"start"`
	End           string          `json:"end"`
	Label         string          `json:"label"`
	EntitledDays  decimal.Decimal `json:"entitled_days"`
	ConsumedDays  decimal.Decimal `json:"consumed_days"`
	OverflowDays  decimal.Decimal `json:"overflow_days"`
	RemainingDays decimal.Decimal `json:"remaining_days"`
	Status        string          `json:"status"`
}

// SavePeriodRequest creates or corrects a period. Consumed totals are never
// accepted from clients.
type SavePeriodRequest struct {
	ID           string            `json:"id"`
	Start        generic.TimePoint `json:"start"`
	End          generic.TimePoint `json:"end"`
	EntitledDays decimal.Decimal   `json:"entitled_days"`
}

type TenureTierRequest struct {
	AfterYears  int   `json:"after_years"`
	DaysPerYear int64 `json:"days_per_year"`
}

// GeneratePeriodsRequest describes an employee's accrual. Zero values fall
// back to the server defaults; as_of defaults to today.
type GeneratePeriodsRequest struct {
	HireDate             generic.TimePoint   `json:"hire_date"`
	AsOf                 generic.TimePoint   `json:"as_of"`
	DaysPerYear          int64               `json:"days_per_year"`
	PeriodType           string              `json:"period_type"`
	FiscalYearStartMonth int                 `json:"fiscal_year_start_month"`
	Tiers                []TenureTierRequest `json:"tiers"`
}

type GeneratePeriodsDTO struct {
	Created []PeriodDTO              `json:"created"`
	Result  *ReconciliationResultDTO `json:"result,omitempty"`
}

func toPeriodDTO(p generic.EarnedPeriod) PeriodDTO {
	return PeriodDTO{
		ID:            string(p.ID),
		EmployeeID:    string(p.EmployeeID),
		Start:         p.Start.String(),
		End:           p.End.String(),
		Label:         p.Interval().Label(),
		EntitledDays:  p.EntitledDays,
		ConsumedDays:  p.ConsumedDays,
		OverflowDays:  p.OverflowDays,
		RemainingDays: p.Remaining(),
		Status:        string(p.Status),
	}
}

func toPeriodDTOs(periods []generic.EarnedPeriod) []PeriodDTO {
	out := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodDTO(p))
	}
	return out
}

// =============================================================================
// EVENTS
// =============================================================================

type HintDTO struct {
	PeriodID string `json:"period_id,omitempty"`
	Label    string `json:"label,omitempty"`
}

type EventDTO struct {
	ID           string          `json:"id"`
	EmployeeID   string          `json:"employee_id"`
	EventDate    string          `json:"event_date"`
	EndDate      string          `json:"end_date,omitempty"`
	DaysConsumed decimal.Decimal `json:"days_consumed"`
	Memo         string          `json:"memo,omitempty"`
	Hint         *HintDTO        `json:"hint,omitempty"`
}

// EventRequest records or corrects an approved leave. When days_consumed is
// omitted the workdays between event_date and end_date are counted, minus
// holidays.
type EventRequest struct {
	ID           string              `json:"id"`
	EventDate    generic.TimePoint   `json:"event_date"`
	EndDate      generic.TimePoint   `json:"end_date"`
	DaysConsumed decimal.Decimal     `json:"days_consumed"`
	Memo         string              `json:"memo"`
	Hint         *HintDTO            `json:"hint"`
	Holidays     []generic.TimePoint `json:"holidays"`
}

func (req EventRequest) countsWorkdays() bool {
	return req.DaysConsumed.IsZero() && !req.EndDate.IsZero()
}

func (req EventRequest) toLeaveRequest(employeeID generic.EmployeeID) timeoff.LeaveRequest {
	return timeoff.LeaveRequest{
		ID:         req.ID,
		EmployeeID: employeeID,
		From:       req.EventDate,
		To:         req.EndDate,
		Status:     timeoff.StatusApproved,
		Memo:       req.Memo,
		Holidays:   req.Holidays,
	}
}

func (req EventRequest) toEvent(employeeID generic.EmployeeID) generic.ConsumptionEvent {
	ev := generic.ConsumptionEvent{
		ID:           generic.EventID(req.ID),
		EmployeeID:   employeeID,
		EventDate:    req.EventDate,
		EndDate:      req.EndDate,
		DaysConsumed: req.DaysConsumed,
		Memo:         req.Memo,
	}
	if req.Hint != nil && (req.Hint.PeriodID != "" || req.Hint.Label != "") {
		ev.Hint = &generic.TargetPeriodHint{PeriodID: generic.PeriodID(req.Hint.PeriodID), Label: req.Hint.Label}
	}
	return ev
}

func toEventDTO(ev generic.ConsumptionEvent) EventDTO {
	dto := EventDTO{
		ID:           string(ev.ID),
		EmployeeID:   string(ev.EmployeeID),
		EventDate:    ev.EventDate.String(),
		EndDate:      ev.EndDate.String(),
		DaysConsumed: ev.DaysConsumed,
		Memo:         ev.Memo,
	}
	if !ev.Hint.IsZero() {
		dto.Hint = &HintDTO{PeriodID: string(ev.Hint.PeriodID), Label: ev.Hint.Label}
	}
	return dto
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ApplicationDTO struct {
	EventID     string          `json:"event_id"`
	DaysApplied decimal.Decimal `json:"days_applied"`
	Overflow    bool            `json:"overflow,omitempty"`
}

type PeriodResultDTO struct {
	PeriodID      string           `json:"period_id"`
	Start         string           `json:"start"`
	End           string           `json:"end"`
	Label         string           `json:"label"`
	EntitledDays  decimal.Decimal  `json:"entitled_days"`
	ConsumedDays  decimal.Decimal  `json:"consumed_days"`
	OverflowDays  decimal.Decimal  `json:"overflow_days"`
	RemainingDays decimal.Decimal  `json:"remaining_days"`
	Status        string           `json:"status"`
	AppliedEvents []ApplicationDTO `json:"applied_events"`
}

type ReconciliationResultDTO struct {
	EmployeeID   string               `json:"employee_id"`
	Periods      []PeriodResultDTO    `json:"periods"`
	OverflowDays decimal.Decimal      `json:"overflow_days"`
	Overflow     bool                 `json:"overflow"`
	Diagnostics  []generic.Diagnostic `json:"diagnostics"`
}

func toResultDTO(r *generic.ReconciliationResult) *ReconciliationResultDTO {
	if r == nil {
		return nil
	}
	dto := &ReconciliationResultDTO{
		EmployeeID:   string(r.EmployeeID),
		Periods:      make([]PeriodResultDTO, 0, len(r.Periods)),
		OverflowDays: r.OverflowDays,
		Overflow:     r.Overflow,
		Diagnostics:  r.Diagnostics,
	}
	if dto.Diagnostics == nil {
		dto.Diagnostics = []generic.Diagnostic{}
	}
	for _, p := range r.Periods {
		applied := make([]ApplicationDTO, 0, len(p.AppliedEvents))
		for _, a := range p.AppliedEvents {
			applied = append(applied, ApplicationDTO{EventID: string(a.EventID), DaysApplied: a.DaysApplied, Overflow: a.Overflow})
		}
		dto.Periods = append(dto.Periods, PeriodResultDTO{
			PeriodID:      string(p.PeriodID),
			Start:         p.Start.String(),
			End:           p.End.String(),
			Label:         generic.Period{Start: p.Start, End: p.End}.Label(),
			EntitledDays:  p.EntitledDays,
			ConsumedDays:  p.ConsumedDays,
			OverflowDays:  p.OverflowDays,
			RemainingDays: p.Remaining(),
			Status:        string(p.Status),
			AppliedEvents: applied,
		})
	}
	return dto
}

// BalanceDTO summarizes what the company still owes an employee.
type BalanceDTO struct {
	EmployeeID    string          `json:"employee_id"`
	TotalEntitled decimal.Decimal `json:"total_entitled"`
	TotalConsumed decimal.Decimal `json:"total_consumed"`
	Owed          decimal.Decimal `json:"owed"`
	Overflow      decimal.Decimal `json:"overflow"`
	Net           decimal.Decimal `json:"net"`
	Periods       int             `json:"periods"`
	OpenPeriods   int             `json:"open_periods"`
	OldestOpen    string          `json:"oldest_open,omitempty"`
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:    string(b.EmployeeID),
		TotalEntitled: b.TotalEntitled,
		TotalConsumed: b.TotalConsumed,
		Owed:          b.Owed,
		Overflow:      b.Overflow,
		Net:           b.Net(),
		Periods:       b.Periods,
		OpenPeriods:   b.OpenPeriods,
		OldestOpen:    string(b.OldestOpen),
	}
}

// =============================================================================
// RUNS / SWEEP
// =============================================================================

type RunDTO struct {
	ID              string          `json:"id"`
	EmployeeID      string          `json:"employee_id"`
	Trigger         string          `json:"trigger"`
	Status          string          `json:"status"`
	OverflowDays    decimal.Decimal `json:"overflow_days"`
	Overflow        bool            `json:"overflow"`
	UnresolvedHints int             `json:"unresolved_hints"`
	Diagnostics     string          `json:"diagnostics"`
	Error           string          `json:"error,omitempty"`
	StartedAt       string          `json:"started_at"`
	CompletedAt     string          `json:"completed_at"`
}

func toRunDTO(r generic.ReconciliationRun) RunDTO {
	return RunDTO{
		ID:              r.ID,
		EmployeeID:      string(r.EmployeeID),
		Trigger:         string(r.Trigger),
		Status:          string(r.Status),
		OverflowDays:    r.OverflowDays,
		Overflow:        r.Overflow,
		UnresolvedHints: r.UnresolvedHints,
		Diagnostics:     r.Diagnostics,
		Error:           r.Error,
		StartedAt:       r.StartedAt.Format(time.RFC3339),
		CompletedAt:     r.CompletedAt.Format(time.RFC3339),
	}
}

type SweepDTO struct {
	Employees int      `json:"employees"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Overflow  []string `json:"overflow"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EmployeeID  string `json:"employee_id"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
