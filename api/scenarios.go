/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos and manual testing. Each scenario owns one employee and shows
  one behavior of the allocation engine.

AVAILABLE SCENARIOS:
  spill-over:     Leave spills from an exhausted period into the next one
  memo-hint:      An approver's memo ("periodo 2022-2023") targets a period
  overflow:       Consumption beyond every entitlement lands on the last period
  mid-year-hire:  Calendar-year periods with a prorated first year
  cancellation:   A cancelled leave frees its days on the next run

HOW SCENARIOS WORK:
  1. Upsert the employee's periods and events through the Reconciler, so
     every write takes the employee lock like any other client
  2. Reconcile once with trigger "manual"
  Loading a scenario twice yields the same state. No other employee is
  touched, so scenarios can be loaded into a live store.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "overflow"}

ADDING NEW SCENARIOS:
  1. Add an entry to 'scenarios' with ID, name, description and employee
  2. Create a loader: func (h *Handler) loadXxx(ctx, emp) error
  3. Register it in 'loaders'

SEE ALSO:
  - handlers.go: Handler
  - timeoff/service.go: Reconciler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "spill-over",
		Name:        "Spill-over",
		Description: "18 days taken against two 15-day years: the oldest fills, 3 days land in the next",
		EmployeeID:  "demo-spill",
	},
	{
		ID:          "memo-hint",
		Name:        "Memo Hint",
		Description: "A leave approved as \"vacaciones periodo 2022-2023\" skips the oldest period",
		EmployeeID:  "demo-hint",
	},
	{
		ID:          "overflow",
		Name:        "Overflow",
		Description: "35 days taken against 30 earned: 5 days of overflow on the last period",
		EmployeeID:  "demo-overflow",
	},
	{
		ID:          "mid-year-hire",
		Name:        "Mid-Year Hire",
		Description: "Hired 2021-07-01 on calendar years: the first year is prorated to 7 days",
		EmployeeID:  "demo-midyear",
	},
	{
		ID:          "cancellation",
		Name:        "Cancellation",
		Description: "Two leaves recorded, one cancelled: its days return to the period",
		EmployeeID:  "demo-cancel",
	},
}

var loaders = map[string]func(h *Handler, ctx context.Context, emp generic.EmployeeID) error{
	"spill-over":    (*Handler).loadSpillOver,
	"memo-hint":     (*Handler).loadMemoHint,
	"overflow":      (*Handler).loadOverflow,
	"mid-year-hire": (*Handler).loadMidYearHire,
	"cancellation":  (*Handler).loadCancellation,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario and returns its reconciliation.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeErrorStatus(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	emp := generic.EmployeeID(scenario.EmployeeID)
	h.invalidate(emp)

	if err := loaders[scenario.ID](h, ctx, emp); err != nil {
		h.writeError(w, err, fmt.Sprintf("Failed to load scenario: %v", err))
		return
	}
	result, err := h.Reconciler.Reconcile(ctx, emp, generic.TriggerManual)
	if err != nil {
		h.writeError(w, err, "Failed to reconcile scenario")
		return
	}

	h.log.Info("scenario loaded",
		zap.String("scenario", scenario.ID),
		zap.String("employee_id", string(emp)))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": scenario.ID,
		"result":   toResultDTO(result),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// twoServiceYears stores March-to-February years 2021-2022 and 2022-2023
// with 15 days each.
func (h *Handler) twoServiceYears(ctx context.Context, emp generic.EmployeeID) error {
	years := []struct {
		id         string
		start, end generic.TimePoint
	}{
		{"p-2021", generic.NewTimePoint(2021, time.March, 1), generic.NewTimePoint(2022, time.February, 28)},
		{"p-2022", generic.NewTimePoint(2022, time.March, 1), generic.NewTimePoint(2023, time.February, 28)},
	}
	for _, y := range years {
		_, err := h.Reconciler.SavePeriod(ctx, generic.EarnedPeriod{
			ID:           generic.PeriodID(y.id),
			EmployeeID:   emp,
			Start:        y.start,
			End:          y.end,
			EntitledDays: generic.Days(timeoff.Regime15),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// saveLeave records the leave, or corrects it back to its scenario values
// when an earlier load already approved it.
func (h *Handler) saveLeave(ctx context.Context, emp generic.EmployeeID, id string, date generic.TimePoint, days int64, memo string) error {
	ev := generic.ConsumptionEvent{
		ID:           generic.EventID(id),
		EmployeeID:   emp,
		EventDate:    date,
		DaysConsumed: generic.Days(days),
		Memo:         memo,
	}
	_, err := h.Reconciler.RecordEvent(ctx, ev)
	if errors.Is(err, generic.ErrEventExists) {
		_, err = h.Reconciler.CorrectEvent(ctx, ev)
	}
	return err
}

func (h *Handler) loadSpillOver(ctx context.Context, emp generic.EmployeeID) error {
	if err := h.twoServiceYears(ctx, emp); err != nil {
		return err
	}
	if err := h.saveLeave(ctx, emp, "summer-2022", generic.NewTimePoint(2022, time.June, 6), 10, "Summer vacation"); err != nil {
		return err
	}
	return h.saveLeave(ctx, emp, "autumn-2022", generic.NewTimePoint(2022, time.September, 12), 8, "Autumn break")
}

func (h *Handler) loadMemoHint(ctx context.Context, emp generic.EmployeeID) error {
	if err := h.twoServiceYears(ctx, emp); err != nil {
		return err
	}
	// Approved against the second year even though the first is still open.
	if err := h.saveLeave(ctx, emp, "hinted", generic.NewTimePoint(2022, time.May, 2), 5, "vacaciones periodo 2022-2023"); err != nil {
		return err
	}
	return h.saveLeave(ctx, emp, "plain", generic.NewTimePoint(2022, time.July, 4), 12, "Family trip")
}

func (h *Handler) loadOverflow(ctx context.Context, emp generic.EmployeeID) error {
	if err := h.twoServiceYears(ctx, emp); err != nil {
		return err
	}
	if err := h.saveLeave(ctx, emp, "long-leave", generic.NewTimePoint(2022, time.April, 4), 20, "Sabbatical part 1"); err != nil {
		return err
	}
	return h.saveLeave(ctx, emp, "long-leave-2", generic.NewTimePoint(2022, time.October, 3), 15, "Sabbatical part 2")
}

func (h *Handler) loadMidYearHire(ctx context.Context, emp generic.EmployeeID) error {
	accrual := &timeoff.AnniversaryAccrual{
		HireDate:    generic.NewTimePoint(2021, time.July, 1),
		DaysPerYear: timeoff.Regime15,
		Periods:     generic.PeriodConfig{Type: generic.PeriodCalendarYear},
	}
	if _, _, err := h.Reconciler.GeneratePeriods(ctx, emp, accrual, generic.NewTimePoint(2023, time.December, 31)); err != nil {
		return err
	}
	return h.saveLeave(ctx, emp, "winter-2022", generic.NewTimePoint(2022, time.February, 14), 10, "Ski week")
}

func (h *Handler) loadCancellation(ctx context.Context, emp generic.EmployeeID) error {
	if err := h.twoServiceYears(ctx, emp); err != nil {
		return err
	}
	if err := h.saveLeave(ctx, emp, "kept", generic.NewTimePoint(2022, time.May, 9), 4, "Long weekend"); err != nil {
		return err
	}
	if err := h.saveLeave(ctx, emp, "cancelled", generic.NewTimePoint(2022, time.August, 1), 6, "Trip called off"); err != nil {
		return err
	}
	_, err := h.Reconciler.CancelEvent(ctx, emp, "cancelled")
	return err
}
