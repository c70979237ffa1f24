/*
Package gormstore implements generic.Store on GORM.

PURPOSE:
  The production store. main opens it on PostgreSQL (gorm.io/driver/postgres);
  tests open it on SQLite (gorm.io/driver/sqlite) and run the same
  conformance suite as the other stores.

MODELS:
  periodModel, eventModel and runModel mirror the tables of store/sqlite.
  Dates are kept as "YYYY-MM-DD" strings so ordering is dialect independent;
  day quantities are numeric columns scanned into decimal.Decimal.

ATOMIC UPDATES:
  ApplyPeriodUpdates runs inside db.Transaction; a zero-row update returns
  generic.ErrPeriodNotFound and the transaction rolls back.

USAGE:
  db, err := gormstore.Open(postgres.Open(dsn), gormstore.Options{MaxOpenConns: 10})
  store := gormstore.New(db)

SEE ALSO:
  - store/sqlite/sqlite.go: database/sql implementation
  - generic/storetest/storetest.go: Conformance suite
*/
package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/accrual-engine/generic"
)

// =============================================================================
// MODELS
// =============================================================================

type periodModel struct {
	EmployeeID   string          `gorm:"primaryKey;size:128;index:idx_periods_employee_start,priority:1"`
	ID           string          `gorm:"primaryKey;size:128;index:idx_periods_employee_start,priority:3"`
	StartDate    string          `gorm:"size:10;not null;index:idx_periods_employee_start,priority:2"`
	EndDate      string          `gorm:"size:10;not null"`
	EntitledDays decimal.Decimal `gorm:"type:numeric;not null"`
	ConsumedDays decimal.Decimal `gorm:"type:numeric;not null"`
	OverflowDays decimal.Decimal `gorm:"type:numeric;not null"`
	Status       string          `gorm:"size:32;not null"`
	UpdatedAt    time.Time
}

func (periodModel) TableName() string { return "periods" }

type eventModel struct {
	EmployeeID   string          `gorm:"primaryKey;size:128;index:idx_events_employee_status_date,priority:1"`
	ID           string          `gorm:"primaryKey;size:128;index:idx_events_employee_status_date,priority:4"`
	EventDate    string          `gorm:"size:10;not null;index:idx_events_employee_status_date,priority:3"`
	EndDate      string          `gorm:"size:10"`
	DaysConsumed decimal.Decimal `gorm:"type:numeric;not null"`
	Memo         string          `gorm:"not null;default:''"`
	HintPeriodID string          `gorm:"size:128"`
	HintLabel    string          `gorm:"size:64"`
	Status       string          `gorm:"size:32;not null;index:idx_events_employee_status_date,priority:2"`
	UpdatedAt    time.Time
}

func (eventModel) TableName() string { return "events" }

type runModel struct {
	ID              string          `gorm:"primaryKey;size:64"`
	EmployeeID      string          `gorm:"size:128;not null;index:idx_runs_employee_started,priority:1"`
	TriggerType     string          `gorm:"size:32;not null"`
	Status          string          `gorm:"size:32;not null;index"`
	OverflowDays    decimal.Decimal `gorm:"type:numeric;not null"`
	Overflow        bool            `gorm:"not null"`
	UnresolvedHints int             `gorm:"not null"`
	DiagnosticsJSON string          `gorm:"not null"`
	Error           string
	StartedAt       time.Time `gorm:"not null;index:idx_runs_employee_started,priority:2"`
	CompletedAt     time.Time `gorm:"not null"`
}

func (runModel) TableName() string { return "runs" }

// =============================================================================
// OPEN
// =============================================================================

// Options tunes the connection pool. Zero values keep database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Open connects with the given dialector and migrates the schema.
func Open(dialector gorm.Dialector, opts Options) (*gorm.DB, error) {
	level := opts.LogLevel
	if level == 0 {
		level = logger.Silent
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&periodModel{}, &eventModel{}, &runModel{}); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db *gorm.DB
}

var _ generic.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

func (s *Store) ListPeriods(ctx context.Context, employeeID generic.EmployeeID) ([]generic.EarnedPeriod, error) {
	var rows []periodModel
	err := s.db.WithContext(ctx).
		Where("employee_id = ?", string(employeeID)).
		Order("start_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}

	periods := make([]generic.EarnedPeriod, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPeriod()
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

func (s *Store) SavePeriod(ctx context.Context, p generic.EarnedPeriod) error {
	row := periodModel{
		EmployeeID:   string(p.EmployeeID),
		ID:           string(p.ID),
		StartDate:    p.Start.String(),
		EndDate:      p.End.String(),
		EntitledDays: p.EntitledDays,
		ConsumedDays: p.ConsumedDays,
		OverflowDays: p.OverflowDays,
		Status:       string(p.Status),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}, {Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

func (s *Store) ApplyPeriodUpdates(ctx context.Context, employeeID generic.EmployeeID, updates []generic.PeriodUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			res := tx.Model(&periodModel{}).
				Where("employee_id = ? AND id = ?", string(employeeID), string(u.PeriodID)).
				Updates(map[string]any{
					"consumed_days": u.ConsumedDays,
					"overflow_days": u.OverflowDays,
					"status":        string(u.Status),
					"updated_at":    time.Now().UTC(),
				})
			if res.Error != nil {
				return fmt.Errorf("failed to update period %s: %w", u.PeriodID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", generic.ErrPeriodNotFound, u.PeriodID)
			}
		}
		return nil
	})
}

func (m periodModel) toPeriod() (generic.EarnedPeriod, error) {
	start, err := generic.ParseDate(m.StartDate)
	if err != nil {
		return generic.EarnedPeriod{}, fmt.Errorf("period %s: %w", m.ID, err)
	}
	end, err := generic.ParseDate(m.EndDate)
	if err != nil {
		return generic.EarnedPeriod{}, fmt.Errorf("period %s: %w", m.ID, err)
	}
	return generic.EarnedPeriod{
		ID:           generic.PeriodID(m.ID),
		EmployeeID:   generic.EmployeeID(m.EmployeeID),
		Start:        start,
		End:          end,
		EntitledDays: m.EntitledDays,
		ConsumedDays: m.ConsumedDays,
		OverflowDays: m.OverflowDays,
		Status:       generic.PeriodStatus(m.Status),
	}, nil
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

func (s *Store) ListApprovedEvents(ctx context.Context, employeeID generic.EmployeeID) ([]generic.ConsumptionEvent, error) {
	var rows []eventModel
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND status = ?", string(employeeID), string(generic.EventApproved)).
		Order("event_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]generic.ConsumptionEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) SaveEvent(ctx context.Context, ev generic.ConsumptionEvent) error {
	row := eventModel{
		EmployeeID:   string(ev.EmployeeID),
		ID:           string(ev.ID),
		EventDate:    ev.EventDate.String(),
		EndDate:      ev.EndDate.String(),
		DaysConsumed: ev.DaysConsumed,
		Memo:         ev.Memo,
		Status:       string(generic.EventApproved),
	}
	if !ev.Hint.IsZero() {
		row.HintPeriodID = string(ev.Hint.PeriodID)
		row.HintLabel = ev.Hint.Label
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}, {Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) (generic.ConsumptionEvent, error) {
	var rows []eventModel
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND id = ? AND status = ?", string(employeeID), string(id), string(generic.EventApproved)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return generic.ConsumptionEvent{}, fmt.Errorf("failed to query event: %w", err)
	}
	if len(rows) == 0 {
		return generic.ConsumptionEvent{}, fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return rows[0].toEvent()
}

func (s *Store) CancelEvent(ctx context.Context, employeeID generic.EmployeeID, id generic.EventID) error {
	res := s.db.WithContext(ctx).Model(&eventModel{}).
		Where("employee_id = ? AND id = ? AND status = ?", string(employeeID), string(id), string(generic.EventApproved)).
		Updates(map[string]any{
			"status":     string(generic.EventCancelled),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEventNotFound, id)
	}
	return nil
}

func (m eventModel) toEvent() (generic.ConsumptionEvent, error) {
	date, err := generic.ParseDate(m.EventDate)
	if err != nil {
		return generic.ConsumptionEvent{}, fmt.Errorf("event %s: %w", m.ID, err)
	}
	ev := generic.ConsumptionEvent{
		ID:           generic.EventID(m.ID),
		EmployeeID:   generic.EmployeeID(m.EmployeeID),
		EventDate:    date,
		DaysConsumed: m.DaysConsumed,
		Memo:         m.Memo,
	}
	if m.EndDate != "" {
		if ev.EndDate, err = generic.ParseDate(m.EndDate); err != nil {
			return generic.ConsumptionEvent{}, fmt.Errorf("event %s: %w", m.ID, err)
		}
	}
	if m.HintPeriodID != "" || m.HintLabel != "" {
		ev.Hint = &generic.TargetPeriodHint{PeriodID: generic.PeriodID(m.HintPeriodID), Label: m.HintLabel}
	}
	return ev, nil
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

func (s *Store) SaveRun(ctx context.Context, r generic.ReconciliationRun) error {
	row := runModel{
		ID:              r.ID,
		EmployeeID:      string(r.EmployeeID),
		TriggerType:     string(r.Trigger),
		Status:          string(r.Status),
		OverflowDays:    r.OverflowDays,
		Overflow:        r.Overflow,
		UnresolvedHints: r.UnresolvedHints,
		DiagnosticsJSON: r.Diagnostics,
		Error:           r.Error,
		StartedAt:       r.StartedAt.UTC(),
		CompletedAt:     r.CompletedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, filter generic.RunFilter) ([]generic.ReconciliationRun, error) {
	stmt := s.db.WithContext(ctx).Model(&runModel{})
	if filter.EmployeeID != "" {
		stmt = stmt.Where("employee_id = ?", string(filter.EmployeeID))
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var rows []runModel
	if err := stmt.Order("started_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}

	runs := make([]generic.ReconciliationRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, generic.ReconciliationRun{
			ID:              row.ID,
			EmployeeID:      generic.EmployeeID(row.EmployeeID),
			Trigger:         generic.RunTrigger(row.TriggerType),
			Status:          generic.RunStatus(row.Status),
			OverflowDays:    row.OverflowDays,
			Overflow:        row.Overflow,
			UnresolvedHints: row.UnresolvedHints,
			Diagnostics:     row.DiagnosticsJSON,
			Error:           row.Error,
			StartedAt:       row.StartedAt,
			CompletedAt:     row.CompletedAt,
		})
	}
	return runs, nil
}

// -----------------------------------------------------------------------------
// Employees
// -----------------------------------------------------------------------------

func (s *Store) ListEmployees(ctx context.Context) ([]generic.EmployeeID, error) {
	var ids []string
	err := s.db.WithContext(ctx).Raw(`
		SELECT employee_id FROM periods
		UNION
		SELECT employee_id FROM events
		ORDER BY employee_id ASC
	`).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}

	out := make([]generic.EmployeeID, len(ids))
	for i, id := range ids {
		out[i] = generic.EmployeeID(id)
	}
	return out, nil
}
