// Package postgres implements the store on PostgreSQL through database/sql
// and the pgx driver. Units of work map to SQL transactions; tasks are locked
// with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kazz187/auditflow/db/migrations"
	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/internal/ticket"
)

var _ store.Store = (*Store)(nil)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies embedded migrations that have not been recorded yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		var applied bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, file).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) LoadCalendar(ctx context.Context) ([]calendar.BusinessHours, []calendar.Holiday, error) {
	t := &tx{q: s.db}
	hours, err := t.businessHours(ctx)
	if err != nil {
		return nil, nil, err
	}
	holidays, err := t.holidays(ctx)
	if err != nil {
		return nil, nil, err
	}
	return hours, holidays, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	tx *sql.Tx
	q  querier
}

func (t *tx) db() querier {
	if t.tx != nil {
		return t.tx
	}
	return t.q
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "tasks_ticket_id_key" {
			return fmt.Errorf("%s: %w", pgErr.Detail, ticket.ErrDuplicateTicketID)
		}
		return fmt.Errorf("unique constraint %s: %w", pgErr.ConstraintName, err)
	}
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func datePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := calendar.DateOf(nt.Time)
	return &v
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(calendar.DateLayout)
}

func marshalJSON(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case *submission.Submission:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}

const taskColumns = `id, ticket_id, title, description, content_data, status, plan_date, completed_at, audit_decided_at,
	revision_count, audit_notes, created_by, assignee_id, auditor_id, submission, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var (
		tk                                task.Task
		content, sub                      []byte
		status                            string
		planDate, completed, auditDecided sql.NullTime
	)
	if err := row.Scan(&tk.ID, &tk.TicketID, &tk.Title, &tk.Description, &content, &status, &planDate, &completed, &auditDecided,
		&tk.RevisionCount, &tk.AuditNotes, &tk.CreatedBy, &tk.AssigneeID, &tk.AuditorID, &sub, &tk.CreatedAt, &tk.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := task.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	tk.Status = st
	tk.PlanDate = datePtr(planDate)
	tk.CompletedAt = timePtr(completed)
	tk.AuditDecidedAt = timePtr(auditDecided)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &tk.ContentData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content_data: %w", err)
		}
	}
	if len(sub) > 0 {
		tk.Submission = &submission.Submission{}
		if err := json.Unmarshal(sub, tk.Submission); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
		}
	}
	return &tk, nil
}

func (t *tx) CreateTask(ctx context.Context, tk *task.Task) error {
	content, err := marshalJSON(tk.ContentData)
	if err != nil {
		return err
	}
	sub, err := marshalJSON(tk.Submission)
	if err != nil {
		return err
	}
	_, err = t.db().ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		tk.ID, tk.TicketID, tk.Title, tk.Description, content, string(tk.Status), nullDate(tk.PlanDate), nullTime(tk.CompletedAt), nullTime(tk.AuditDecidedAt),
		tk.RevisionCount, tk.AuditNotes, tk.CreatedBy, tk.AssigneeID, tk.AuditorID, sub, tk.CreatedAt.UTC(), tk.UpdatedAt.UTC(),
	)
	return mapError(err)
}

func (t *tx) getTask(ctx context.Context, id, suffix string) (*task.Task, error) {
	tk, err := scanTask(t.db().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`+suffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	return tk, err
}

func (t *tx) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return t.getTask(ctx, id, "")
}

func (t *tx) GetTaskForUpdate(ctx context.Context, id string) (*task.Task, error) {
	return t.getTask(ctx, id, " FOR UPDATE")
}

func (t *tx) UpdateTask(ctx context.Context, tk *task.Task) error {
	content, err := marshalJSON(tk.ContentData)
	if err != nil {
		return err
	}
	sub, err := marshalJSON(tk.Submission)
	if err != nil {
		return err
	}
	res, err := t.db().ExecContext(ctx,
		`UPDATE tasks SET title=$2, description=$3, content_data=$4, status=$5, plan_date=$6, completed_at=$7, audit_decided_at=$8,
			revision_count=$9, audit_notes=$10, assignee_id=$11, auditor_id=$12, submission=$13, updated_at=$14
		 WHERE id=$1`,
		tk.ID, tk.Title, tk.Description, content, string(tk.Status), nullDate(tk.PlanDate), nullTime(tk.CompletedAt), nullTime(tk.AuditDecidedAt),
		tk.RevisionCount, tk.AuditNotes, tk.AssigneeID, tk.AuditorID, sub, tk.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError(err)
	}
	return expectRow(res, "task", tk.ID)
}

func expectRow(res sql.Result, kind, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (t *tx) DeleteTask(ctx context.Context, id string) error {
	res, err := t.db().ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "task", id)
}

func (t *tx) ListTasks(ctx context.Context, f store.TaskFilter) ([]*task.Task, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("status", string(f.Status))
	add("assignee_id", f.AssigneeID)
	add("auditor_id", f.AuditorID)
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := t.db().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + cond + ` ORDER BY created_at DESC, ticket_id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := t.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		tk, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tk)
	}
	return out, total, rows.Err()
}

const stepColumns = `id, task_id, template_id, name, step_order, tat_hours, requires_audit, status, assignee_id, auditor_id,
	planned_ptp, planned_atp, started_at, completed_at, audit_completed_at, revision_count, audit_notes, submission, created_at, updated_at`

func (t *tx) CreateSteps(ctx context.Context, steps []*step.Step) error {
	for _, st := range steps {
		sub, err := marshalJSON(st.Submission)
		if err != nil {
			return err
		}
		if _, err := t.db().ExecContext(ctx,
			`INSERT INTO workflow_steps (`+stepColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			st.ID, st.TaskID, st.TemplateID, st.Name, st.Order, st.TATHours, st.RequiresAudit, string(st.Status), st.AssigneeID, st.AuditorID,
			nullTime(st.PlannedPTP), nullTime(st.PlannedATP), nullTime(st.StartedAt), nullTime(st.CompletedAt), nullTime(st.AuditCompletedAt),
			st.RevisionCount, st.AuditNotes, sub, st.CreatedAt.UTC(), st.UpdatedAt.UTC(),
		); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *tx) ListSteps(ctx context.Context, taskID string) ([]*step.Step, error) {
	rows, err := t.db().QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE task_id=$1 ORDER BY step_order`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*step.Step
	for rows.Next() {
		var (
			st                                      step.Step
			status                                  string
			sub                                     []byte
			ptp, atp, started, completed, auditDone sql.NullTime
		)
		if err := rows.Scan(&st.ID, &st.TaskID, &st.TemplateID, &st.Name, &st.Order, &st.TATHours, &st.RequiresAudit, &status, &st.AssigneeID, &st.AuditorID,
			&ptp, &atp, &started, &completed, &auditDone, &st.RevisionCount, &st.AuditNotes, &sub, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if st.Status, err = step.ParseStatus(status); err != nil {
			return nil, err
		}
		st.PlannedPTP = timePtr(ptp)
		st.PlannedATP = timePtr(atp)
		st.StartedAt = timePtr(started)
		st.CompletedAt = timePtr(completed)
		st.AuditCompletedAt = timePtr(auditDone)
		if len(sub) > 0 {
			st.Submission = &submission.Submission{}
			if err := json.Unmarshal(sub, st.Submission); err != nil {
				return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
			}
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (t *tx) UpdateStep(ctx context.Context, st *step.Step) error {
	sub, err := marshalJSON(st.Submission)
	if err != nil {
		return err
	}
	res, err := t.db().ExecContext(ctx,
		`UPDATE workflow_steps SET status=$2, assignee_id=$3, auditor_id=$4, planned_ptp=$5, planned_atp=$6, started_at=$7,
			completed_at=$8, audit_completed_at=$9, revision_count=$10, audit_notes=$11, submission=$12, updated_at=$13
		 WHERE id=$1`,
		st.ID, string(st.Status), st.AssigneeID, st.AuditorID, nullTime(st.PlannedPTP), nullTime(st.PlannedATP), nullTime(st.StartedAt),
		nullTime(st.CompletedAt), nullTime(st.AuditCompletedAt), st.RevisionCount, st.AuditNotes, sub, st.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError(err)
	}
	return expectRow(res, "step", st.ID)
}

func (t *tx) AppendAudit(ctx context.Context, e *audittrail.Entry) error {
	_, err := t.db().ExecContext(ctx,
		`INSERT INTO audit_trail (id, task_id, step_order, actor_id, field_name, previous_value, new_value, notes, recorded_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TaskID, e.StepOrder, e.ActorID, e.FieldName, e.PreviousValue, e.NewValue, e.Notes, e.Timestamp.UTC(),
	)
	return err
}

func (t *tx) ListAudit(ctx context.Context, taskID string) ([]*audittrail.Entry, error) {
	rows, err := t.db().QueryContext(ctx,
		`SELECT id, task_id, step_order, actor_id, field_name, previous_value, new_value, notes, recorded_at
		 FROM audit_trail WHERE task_id=$1 ORDER BY recorded_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*audittrail.Entry
	for rows.Next() {
		var e audittrail.Entry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.StepOrder, &e.ActorID, &e.FieldName, &e.PreviousValue, &e.NewValue, &e.Notes, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// NextTicketSequence bumps the per-day counter atomically. The counter is
// never allowed to fall behind tickets inserted by other means, so a retry
// after a duplicate always moves forward.
func (t *tx) NextTicketSequence(ctx context.Context, day string) (int, error) {
	var seq int
	err := t.db().QueryRowContext(ctx,
		`WITH existing AS (
			SELECT COALESCE(MAX(CAST(split_part(ticket_id, '-', 3) AS INTEGER)), 0) AS max_seq
			FROM tasks WHERE ticket_id LIKE 'TKT-' || $1 || '-%'
		)
		INSERT INTO ticket_sequences (day, last_seq)
		SELECT $1, max_seq + 1 FROM existing
		ON CONFLICT (day) DO UPDATE
			SET last_seq = GREATEST(ticket_sequences.last_seq, (SELECT max_seq FROM existing)) + 1
		RETURNING last_seq`, day).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

const templateColumns = `id, name, step_order, tat_hours, requires_audit, is_active, created_at, updated_at`

func scanTemplate(row scanner) (*step.Template, error) {
	var tpl step.Template
	if err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Order, &tpl.TATHours, &tpl.RequiresAudit, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (t *tx) ListTemplates(ctx context.Context) ([]*step.Template, error) {
	rows, err := t.db().QueryContext(ctx, `SELECT `+templateColumns+` FROM step_templates ORDER BY step_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*step.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (t *tx) GetTemplate(ctx context.Context, id string) (*step.Template, error) {
	tpl, err := scanTemplate(t.db().QueryRowContext(ctx, `SELECT `+templateColumns+` FROM step_templates WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("step template", id)
	}
	return tpl, err
}

func (t *tx) SaveTemplate(ctx context.Context, tpl *step.Template) error {
	_, err := t.db().ExecContext(ctx,
		`INSERT INTO step_templates (`+templateColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, step_order=EXCLUDED.step_order, tat_hours=EXCLUDED.tat_hours,
			requires_audit=EXCLUDED.requires_audit, is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at`,
		tpl.ID, tpl.Name, tpl.Order, tpl.TATHours, tpl.RequiresAudit, tpl.IsActive, tpl.CreatedAt.UTC(), tpl.UpdatedAt.UTC(),
	)
	return mapError(err)
}

func (t *tx) businessHours(ctx context.Context) ([]calendar.BusinessHours, error) {
	rows, err := t.db().QueryContext(ctx, `SELECT weekday, start_seconds, end_seconds, is_working_day FROM business_hours ORDER BY weekday`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calendar.BusinessHours
	for rows.Next() {
		var (
			h          calendar.BusinessHours
			wd         int
			start, end int64
		)
		if err := rows.Scan(&wd, &start, &end, &h.IsWorkingDay); err != nil {
			return nil, err
		}
		h.Weekday = time.Weekday(wd)
		h.Start = calendar.TimeOfDay(time.Duration(start) * time.Second)
		h.End = calendar.TimeOfDay(time.Duration(end) * time.Second)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *tx) holidays(ctx context.Context) ([]calendar.Holiday, error) {
	rows, err := t.db().QueryContext(ctx, `SELECT holiday_date, name, is_recurring FROM holidays ORDER BY holiday_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calendar.Holiday
	for rows.Next() {
		var h calendar.Holiday
		if err := rows.Scan(&h.Date, &h.Name, &h.IsRecurring); err != nil {
			return nil, err
		}
		h.Date = calendar.DateOf(h.Date)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *tx) SetBusinessHours(ctx context.Context, hours []calendar.BusinessHours) error {
	if err := calendar.Validate(hours); err != nil {
		return err
	}
	for _, h := range hours {
		if _, err := t.db().ExecContext(ctx,
			`INSERT INTO business_hours (weekday, start_seconds, end_seconds, is_working_day) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (weekday) DO UPDATE SET start_seconds=EXCLUDED.start_seconds, end_seconds=EXCLUDED.end_seconds,
				is_working_day=EXCLUDED.is_working_day`,
			int(h.Weekday), int64(time.Duration(h.Start)/time.Second), int64(time.Duration(h.End)/time.Second), h.IsWorkingDay,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) AddHoliday(ctx context.Context, h calendar.Holiday) error {
	_, err := t.db().ExecContext(ctx,
		`INSERT INTO holidays (holiday_date, name, is_recurring) VALUES ($1,$2,$3)
		 ON CONFLICT (holiday_date) DO UPDATE SET name=EXCLUDED.name, is_recurring=EXCLUDED.is_recurring`,
		h.Date.Format(calendar.DateLayout), h.Name, h.IsRecurring,
	)
	return err
}

func (t *tx) RemoveHoliday(ctx context.Context, date string) error {
	res, err := t.db().ExecContext(ctx, `DELETE FROM holidays WHERE holiday_date=$1`, date)
	if err != nil {
		return err
	}
	return expectRow(res, "holiday", date)
}
