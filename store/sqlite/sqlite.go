/*
Package sqlite provides a SQLite-backed implementation of generic.Store.

PURPOSE:
  Persists earned periods, consumption events and reconciliation runs with
  database/sql and go-sqlite3. The same schema runs on PostgreSQL through
  store/gormstore; this package is the zero-infrastructure default.

KEY TABLES:
  periods: One row per earned period; consumed/overflow/status are engine-owned
  events:  Consumption events; cancellation flips status, rows are never deleted
  runs:    Append-only audit trail of reconciliation runs

ATOMIC UPDATES:
  ApplyPeriodUpdates runs in one transaction. Any update that touches no row
  rolls the whole batch back with generic.ErrPeriodNotFound.

STORAGE FORMATS:
  Dates are TEXT "2006-01-02" so ORDER BY start is chronological.
  Day quantities are TEXT decimals to round-trip exactly.
  Run timestamps are fixed-width UTC so ORDER BY started_at is chronological.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Cross-process safety for the
  read-compute-persist cycle comes from lock.Locker, not from the database.

USAGE:
  store, err := sqlite.New("./data/accrual.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - generic/storetest/storetest.go: Conformance suite
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/accrual-engine/generic"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store implements generic.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS periods (
		employee_id TEXT NOT NULL,
		id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		entitled_days TEXT NOT NULL,
		consumed_days TEXT NOT NULL DEFAULT '0',
		overflow_days TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_periods_employee_start
		ON periods(employee_id, start_date, id);

	CREATE TABLE IF NOT EXISTS events (
		employee_id TEXT NOT NULL,
		id TEXT NOT NULL,
		event_date TEXT NOT NULL,
		end_date TEXT,
		days_consumed TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		hint_period_id TEXT,
		hint_label TEXT,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, id)
	);

	-- Hot path: approved events in allocation order
	CREATE INDEX IF NOT EXISTS idx_events_employee_status_date
		ON events(employee_id, status, event_date, id);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		overflow_days TEXT NOT NULL,
		overflow INTEGER NOT NULL,
		unresolved_hints INTEGER NOT NULL,
		diagnostics_json TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_employee_started
		ON runs(employee_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERIODS
// =============================================================================

func (s *Store) ListPeriods(ctx context.Context, employeeID generic.EmployeeID) ([]generic.EarnedPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, start_date, end_date, entitled_days, consumed_days, overflow_days, status
		FROM periods
		WHERE employee_id = ?
		ORDER BY start_date ASC, id ASC
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []generic.EarnedPeriod
	for rows.Next() {
		var (
			p                                    generic.EarnedPeriod
			start, end, entitled, consumed, over string
		)
		if err := rows.Scan(&p.ID, &p.EmployeeID, &start, &end, &entitled, &consumed, &over, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		if p.Start, err = generic.ParseDate(start); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		if p.End, err = generic.ParseDate(end); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		if p.EntitledDays, err = parseDays("entitled_days", entitled); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		if p.ConsumedDays, err = parseDays("consumed_days", consumed); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		if p.OverflowDays, err = parseDays("overflow_days", over); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.ID, err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (s *Store) SavePeriod(ctx context.Context, p generic.EarnedPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods
		(employee_id, id, start_date, end_date, entitled_days, consumed_days, overflow_days, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			entitled_days = excluded.entitled_days,
			consumed_days = excluded.consumed_days,
			overflow_days = excluded.overflow_days,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		p.EmployeeID,
		p.ID,
		p.Start.Time.Format(dateLayout),
		p.End.Time.Format(dateLayout),
		p.EntitledDays.String(),
		p.ConsumedDays.String(),
		p.OverflowDays.String(),
		p.Status,
		now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (s *Store) ApplyPeriodUpdates(ctx context.Context, employeeID generic.EmployeeID, updates []generic.PeriodUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stamp := now()
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE periods
			SET consumed_days = ?, overflow_days = ?, status = ?, updated_at = ?
			WHERE employee_id = ? AND id = ?
		`, u.ConsumedDays.String(), u.OverflowDays.String(), u.Status, stamp, employeeID, u.PeriodID)
		if err != nil {
			return fmt.Errorf("failed to update period %s: %w", u.PeriodID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", generic.ErrPeriodNotFound, u.PeriodID)
		}
	}

	return tx.Commit()
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Store) ListApprovedEvents(ctx context.Context, employeeID generic.EmployeeID) ([]generic.ConsumptionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, event_date, end_date, days_consumed, memo, hint_period_id, hint_label
		FROM events
		WHERE employee_id = ? AND status = ?
		ORDER BY event_date ASC, id ASC
	`, employeeID, generic.EventApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []generic.ConsumptionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) SaveEvent(ctx context.Context, ev generic.ConsumptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endDate sql.NullString
	if !ev.EndDate.IsZero() {
		endDate = sql.NullString{String: ev.EndDate.Time.Format(dateLayout), Valid: true}
	}
	var hintID, hintLabel sql.NullString
	if !ev.Hint.IsZero() {
		hintID = nullString(string(ev.Hint.PeriodID))
		hintLabel = nullString(ev.Hint.Label)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(employee_id, id, event_date, end_date, days_consumed, memo, hint_period_id, hint_label, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, id) DO UPDATE SET
			event_date = excluded.event_date,
			end_date = excluded.end_date,
			days_consumed = excluded.days_consumed,
			memo = excluded.memo,
			hint_period_id = excluded.hint_period_id,
			hint_label = excluded.hint_label,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		ev.EmployeeID,
		ev.ID,
		ev.EventDate.Time.Format(dateLayout),
		endDate,
		ev.DaysConsumed.String(),
		ev.Memo,
		hintID,
		hintLabel,
		generic.EventApproved,
		now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) (generic.ConsumptionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, event_date, end_date, days_consumed, memo, hint_period_id, hint_label
		FROM events
		WHERE employee_id = ? AND id = ? AND status = ?
	`, employeeID, id, generic.EventApproved)
	if err != nil {
		return generic.ConsumptionEvent{}, fmt.Errorf("failed to query event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return generic.ConsumptionEvent{}, err
		}
		return generic.ConsumptionEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return scanEvent(rows)
}

func (s *Store) CancelEvent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = ?
		WHERE employee_id = ? AND id = ? AND status = ?
	`, generic.EventCancelled, now(), employeeID, id, generic.EventApproved)
	if err != nil {
		return fmt.Errorf("failed to cancel event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (generic.ConsumptionEvent, error) {
	var (
		ev                generic.ConsumptionEvent
		eventDate, days   string
		endDate           sql.NullString
		hintID, hintLabel sql.NullString
	)
	if err := rows.Scan(&ev.ID, &ev.EmployeeID, &eventDate, &endDate, &days, &ev.Memo, &hintID, &hintLabel); err != nil {
		return ev, fmt.Errorf("failed to scan event: %w", err)
	}

	var err error
	if ev.EventDate, err = generic.ParseDate(eventDate); err != nil {
		return ev, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if endDate.Valid {
		if ev.EndDate, err = generic.ParseDate(endDate.String); err != nil {
			return ev, fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	if ev.DaysConsumed, err = parseDays("days_consumed", days); err != nil {
		return ev, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if hintID.String != "" || hintLabel.String != "" {
		ev.Hint = &generic.TargetPeriodHint{
			PeriodID: generic.PeriodID(hintID.String),
			Label:    hintLabel.String,
		}
	}
	return ev, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r generic.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, employee_id, trigger_type, status, overflow_days, overflow, unresolved_hints,
		 diagnostics_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.EmployeeID,
		r.Trigger,
		r.Status,
		r.OverflowDays.String(),
		r.Overflow,
		r.UnresolvedHints,
		r.Diagnostics,
		nullString(r.Error),
		r.StartedAt.UTC().Format(timeLayout),
		r.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, filter generic.RunFilter) ([]generic.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `
		SELECT id, employee_id, trigger_type, status, overflow_days, overflow, unresolved_hints,
		       diagnostics_json, error, started_at, completed_at
		FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []generic.ReconciliationRun
	for rows.Next() {
		var (
			r                  generic.ReconciliationRun
			overflowDays       string
			errText            sql.NullString
			started, completed string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.Trigger, &r.Status, &overflowDays, &r.Overflow,
			&r.UnresolvedHints, &r.Diagnostics, &errText, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		if r.OverflowDays, err = parseDays("overflow_days", overflowDays); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if r.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
			return nil, fmt.Errorf("run %s: completed_at: %w", r.ID, err)
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) ListEmployees(ctx context.Context) ([]generic.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id FROM periods
		UNION
		SELECT employee_id FROM events
		ORDER BY employee_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var ids []generic.EmployeeID
	for rows.Next() {
		var id generic.EmployeeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDays(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", column, value, err)
	}
	return d, nil
}
