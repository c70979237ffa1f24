package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accrual-engine/api"
	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/generic/store"
	"github.com/warp/accrual-engine/metrics"
	"github.com/warp/accrual-engine/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	router http.Handler
	mem    *store.Memory
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T, opts api.RouterOptions) *testServer {
	t.Helper()
	mem := store.NewMemory()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	reconciler := timeoff.NewReconciler(mem, nil, m, nil)
	scheduler := api.NewScheduler(reconciler, mem, m, nil)
	h := api.NewHandler(reconciler, mem, scheduler, time.Minute, nil)

	opts.Metrics = m
	opts.Gatherer = reg
	return &testServer{router: api.NewRouter(h, opts), mem: mem, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// withTwoYears posts two 15-day periods for emp-1: 2021-2022 and 2022-2023.
func (s *testServer) withTwoYears(t *testing.T) {
	t.Helper()
	for _, p := range []map[string]any{
		{"id": "p1", "start": "2021-03-01", "end": "2022-02-28", "entitled_days": 15},
		{"id": "p2", "start": "2022-03-01", "end": "2023-02-28", "entitled_days": 15},
	} {
		rec := s.do(t, http.MethodPost, "/api/employees/emp-1/periods", p)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func consumed(t *testing.T, result *api.ReconciliationResultDTO) map[string]string {
	t.Helper()
	out := make(map[string]string, len(result.Periods))
	for _, p := range result.Periods {
		out[p.PeriodID] = p.ConsumedDays.String()
	}
	return out
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAPI_RecordEventSpillsIntoNextPeriod(t *testing.T) {
	// GIVEN: Two 15-day periods
	// WHEN: An 18-day leave is recorded
	// THEN: The oldest period fills and 3 days land in the next one

	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "e1", "event_date": "2022-06-06", "days_consumed": 18,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	result := decode[*api.ReconciliationResultDTO](t, rec)
	assert.Equal(t, map[string]string{"p1": "15", "p2": "3"}, consumed(t, result))
	assert.False(t, result.Overflow)
	assert.Empty(t, result.Diagnostics)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/periods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	periods := decode[map[string][]api.PeriodDTO](t, rec)["periods"]
	require.Len(t, periods, 2)
	assert.Equal(t, "fully_consumed", periods[0].Status)
	assert.Equal(t, "partially_consumed", periods[1].Status)
	assert.Equal(t, "2021-2022", periods[0].Label)
	assert.Equal(t, "0", periods[0].RemainingDays.String())
	assert.Equal(t, "12", periods[1].RemainingDays.String())
}

func TestAPI_RecordEventCountsWorkdays(t *testing.T) {
	// GIVEN: A Monday-to-Friday leave with no day count and one holiday
	// THEN: Four workdays are consumed

	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id":         "e1",
		"event_date": "2022-06-06",
		"end_date":   "2022-06-10",
		"holidays":   []string{"2022-06-08"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"p1": "4", "p2": "0"}, consumed(t, decode[*api.ReconciliationResultDTO](t, rec)))

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/events", nil)
	events := decode[map[string][]api.EventDTO](t, rec)["events"]
	require.Len(t, events, 1)
	assert.Equal(t, "4", events[0].DaysConsumed.String())
	assert.Equal(t, "2022-06-10", events[0].EndDate)
}

func TestAPI_MemoHintTargetsPeriod(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "e1", "event_date": "2022-05-02", "days_consumed": 5, "memo": "vacaciones periodo 2022-2023",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"p1": "0", "p2": "5"}, consumed(t, decode[*api.ReconciliationResultDTO](t, rec)))
}

func TestAPI_CorrectAndCancelEvent(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "e1", "event_date": "2022-06-06", "days_consumed": 18,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: The leave is corrected down to 10 days
	rec = s.do(t, http.MethodPut, "/api/employees/emp-1/events/e1", map[string]any{
		"event_date": "2022-06-06", "days_consumed": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"p1": "10", "p2": "0"}, consumed(t, decode[*api.ReconciliationResultDTO](t, rec)))

	// WHEN: It is cancelled
	rec = s.do(t, http.MethodPost, "/api/employees/emp-1/events/e1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"p1": "0", "p2": "0"}, consumed(t, decode[*api.ReconciliationResultDTO](t, rec)))

	// THEN: Cancelling again is a 404
	rec = s.do(t, http.MethodPost, "/api/employees/emp-1/events/e1/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "dup", "event_date": "2022-06-06", "days_consumed": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "malformed json", method: http.MethodPost, path: "/api/employees/emp-1/events", body: "{", want: http.StatusBadRequest},
		{name: "zero days", method: http.MethodPost, path: "/api/employees/emp-1/events",
			body: map[string]any{"id": "z", "event_date": "2022-06-06"}, want: http.StatusUnprocessableEntity},
		{name: "fractional days", method: http.MethodPost, path: "/api/employees/emp-1/events",
			body: map[string]any{"id": "f", "event_date": "2022-06-06", "days_consumed": "1.5"}, want: http.StatusUnprocessableEntity},
		{name: "duplicate event", method: http.MethodPost, path: "/api/employees/emp-1/events",
			body: map[string]any{"id": "dup", "event_date": "2022-06-07", "days_consumed": 1}, want: http.StatusConflict},
		{name: "correct unknown event", method: http.MethodPut, path: "/api/employees/emp-1/events/ghost",
			body: map[string]any{"event_date": "2022-06-06", "days_consumed": 1}, want: http.StatusNotFound},
		{name: "inverted period", method: http.MethodPost, path: "/api/employees/emp-1/periods",
			body: map[string]any{"id": "bad", "start": "2023-03-01", "end": "2023-01-01", "entitled_days": 15}, want: http.StatusUnprocessableEntity},
		{name: "generate without hire date", method: http.MethodPost, path: "/api/employees/emp-1/periods/generate",
			body: map[string]any{}, want: http.StatusBadRequest},
		{name: "bad run limit", method: http.MethodGet, path: "/api/reconciliation/runs?limit=many", want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())

			resp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func TestAPI_GeneratePeriods(t *testing.T) {
	// GIVEN: A hire on 2021-07-01 on calendar years
	// WHEN: Periods are generated through 2023-12-31
	// THEN: The first year is prorated and a second call adds nothing

	s := newTestServer(t, api.RouterOptions{})
	body := map[string]any{
		"hire_date":     "2021-07-01",
		"as_of":         "2023-12-31",
		"days_per_year": 15,
		"period_type":   "calendar_year",
	}

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/periods/generate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[api.GeneratePeriodsDTO](t, rec)
	require.Len(t, out.Created, 3)
	assert.Equal(t, "2021-07-01", out.Created[0].Start)
	assert.Equal(t, "7", out.Created[0].EntitledDays.String())
	assert.Equal(t, "15", out.Created[2].EntitledDays.String())
	require.NotNil(t, out.Result)

	rec = s.do(t, http.MethodPost, "/api/employees/emp-1/periods/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[api.GeneratePeriodsDTO](t, rec)
	assert.Empty(t, again.Created)
	assert.Nil(t, again.Result)
}

// =============================================================================
// BALANCE / RECONCILIATION
// =============================================================================

func TestAPI_BalanceCachedAndInvalidatedOnWrite(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "30", decode[api.BalanceDTO](t, rec).Owed.String())

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	// WHEN: A leave is recorded
	rec = s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "e1", "event_date": "2022-06-06", "days_consumed": 35,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// THEN: The next read recomputes and shows the overflow
	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/balance", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	balance := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, "0", balance.Owed.String())
	assert.Equal(t, "5", balance.Overflow.String())
	assert.Equal(t, "-5", balance.Net.String())
	assert.Equal(t, 0, balance.OpenPeriods)
}

func TestAPI_PreviewDoesNotPersist(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	before, err := s.mem.ListRuns(context.Background(), generic.RunFilter{})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/employees/emp-1/reconciliation/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[*api.ReconciliationResultDTO](t, rec).Periods, 2)

	after, err := s.mem.ListRuns(context.Background(), generic.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestAPI_ReconcileAndListRuns(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/reconciliation/runs?employee_id=emp-1&status=completed&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[map[string][]api.RunDTO](t, rec)["runs"]
	require.Len(t, runs, 1)
	assert.Equal(t, "manual", runs[0].Trigger)
	assert.Equal(t, "[]", runs[0].Diagnostics)
}

func TestAPI_Sweep(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/events", map[string]any{
		"id": "e1", "event_date": "2022-06-06", "days_consumed": 31,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/reconciliation/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sweep := decode[api.SweepDTO](t, rec)
	assert.Equal(t, 1, sweep.Employees)
	assert.Equal(t, 1, sweep.Succeeded)
	assert.Equal(t, []string{"emp-1"}, sweep.Overflow)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAPI_RateLimit(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{RateLimit: 1, Burst: 1})

	first := s.do(t, http.MethodGet, "/api/employees", nil)
	second := s.do(t, http.MethodGet, "/api/employees", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `accrual_http_requests_total{method="POST",route="/api/employees/{id}/periods",status="2xx"} 2`), body)
	assert.Contains(t, body, "accrual_reconciliation_runs_total")
}

func TestAPI_ListEmployees(t *testing.T) {
	s := newTestServer(t, api.RouterOptions{})
	s.withTwoYears(t)

	rec := s.do(t, http.MethodGet, "/api/employees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"emp-1"}, decode[map[string][]string](t, rec)["employees"])
}
