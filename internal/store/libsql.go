package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/autoflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Automations ---

// SaveAutomation inserts or replaces an automation. CreatedAt is kept on
// update.
func (s *LibSQLStore) SaveAutomation(ctx context.Context, a *schema.Automation) error {
	def, err := json.Marshal(a.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automations (id, app_id, name, trigger_step_id, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET app_id=excluded.app_id, name=excluded.name,
		   trigger_step_id=excluded.trigger_step_id, definition=excluded.definition, updated_at=excluded.updated_at`,
		a.ID, a.AppID, nullStr(a.Name), a.Definition.Trigger.StepID, string(def),
		timeOrNow(a.CreatedAt), now,
	)
	return err
}

const automationColumns = `id, app_id, name, definition, created_at, updated_at`

func (s *LibSQLStore) GetAutomation(ctx context.Context, id string) (*schema.Automation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("automation", id)
	}
	return a, err
}

func (s *LibSQLStore) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*schema.Automation, error) {
	var where []string
	var args []any

	if filter.AppID != "" {
		where = append(where, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.TriggerStepID != "" {
		where = append(where, "trigger_step_id = ?")
		args = append(args, filter.TriggerStepID)
	}

	query := "SELECT " + automationColumns + " FROM automations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteAutomation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "automation", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*schema.Automation, error) {
	a := &schema.Automation{}
	var name sql.NullString
	var defJSON string
	if err := row.Scan(&a.ID, &a.AppID, &name, &defJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Name = name.String
	if err := json.Unmarshal([]byte(defJSON), &a.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return a, nil
}

// --- Apps ---

func (s *LibSQLStore) SaveApp(ctx context.Context, app *schema.AppMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (app_id, tenant_id, name) VALUES (?, ?, ?)
		 ON CONFLICT(app_id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name`,
		app.AppID, nullStr(app.TenantID), nullStr(app.Name),
	)
	return err
}

// GetAppMetadata returns the app document. An unknown app is not an error:
// it yields a document without a tenant so the run falls back to the
// default tenant.
func (s *LibSQLStore) GetAppMetadata(ctx context.Context, appID string) (*schema.AppMetadata, error) {
	app := &schema.AppMetadata{AppID: appID}
	var tenant, name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, name FROM apps WHERE app_id = ?`, appID,
	).Scan(&tenant, &name)
	if err == sql.ErrNoRows {
		return app, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get app %q: %s", appID, err.Error()).WithCause(err)
	}
	app.TenantID = tenant.String
	app.Name = name.String
	return app, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	record, err := marshalOrNil(run.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	run.CreatedAt = timeOrNow(run.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, automation_id, app_id, status, chain_count, trigger, record, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AutomationID, run.AppID, string(run.Status), run.ChainCount,
		nullRaw(run.Trigger), record, nullRaw(run.Error), run.CreatedAt, nullTime(run.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) FinishRun(ctx context.Context, id string, update RunUpdate) error {
	record, err := marshalOrNil(update.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	completed := time.Now().UTC()
	if update.CompletedAt != nil {
		completed = *update.CompletedAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, record = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(update.Status), record, nullRaw(update.Error), completed, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

const runColumns = `id, automation_id, app_id, status, chain_count, trigger, record, error, created_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.AutomationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}
	if filter.AppID != "" {
		where = append(where, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		status                 string
		trigger, record, errJS sql.NullString
		completedAt            sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.AutomationID, &run.AppID, &status, &run.ChainCount,
		&trigger, &record, &errJS, &run.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.Trigger = rawOrNil(trigger)
	run.Error = rawOrNil(errJS)
	if record.Valid && record.String != "" {
		run.Record = &schema.ExecutionRecord{}
		if err := json.Unmarshal([]byte(record.String), run.Record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.StepID != "" {
		where = append(where, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, step_id, event_type, payload, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY timestamp ASC, sequence ASC`
	query += limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) UpsertSchedule(ctx context.Context, sched *Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (automation_id, app_id, cron_expression, enabled, last_run_at, last_run_status, next_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(automation_id) DO UPDATE SET app_id=excluded.app_id, cron_expression=excluded.cron_expression,
		   enabled=excluded.enabled, next_run_at=excluded.next_run_at`,
		sched.AutomationID, sched.AppID, sched.CronExpression, sched.Enabled,
		nullTime(sched.LastRunAt), nullStr(sched.LastRunStatus), nullTime(sched.NextRunAt),
	)
	return err
}

const scheduleColumns = `automation_id, app_id, cron_expression, enabled, last_run_at, last_run_status, next_run_at`

func (s *LibSQLStore) GetSchedule(ctx context.Context, automationID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE automation_id = ?`, automationID)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", automationID)
	}
	return sched, err
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, automationID string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, automationID)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE automation_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", automationID)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY automation_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sched := &Schedule{}
	var lastRun, nextRun sql.NullTime
	var lastStatus sql.NullString
	if err := row.Scan(&sched.AutomationID, &sched.AppID, &sched.CronExpression, &sched.Enabled,
		&lastRun, &lastStatus, &nextRun); err != nil {
		return nil, err
	}
	sched.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	return sched, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalOrNil(v *schema.ExecutionRecord) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
