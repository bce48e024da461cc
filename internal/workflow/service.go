package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/observability"
	"github.com/kazz187/auditflow/internal/scheduler"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/internal/ticket"
)

const defaultListLimit = 50

type Service struct {
	store     store.Store
	calendars *calendar.Provider
	scheduler *scheduler.Scheduler
	documents *submission.DocumentStore
	recorder  *audittrail.Recorder
	now       func() time.Time
	attempts  int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTicketAttempts(n int) Option {
	return func(s *Service) { s.attempts = n }
}

func WithDocumentStore(d *submission.DocumentStore) Option {
	return func(s *Service) { s.documents = d }
}

func NewService(st store.Store, calendars *calendar.Provider, opts ...Option) *Service {
	s := &Service{
		store:     st,
		calendars: calendars,
		scheduler: scheduler.New(calendars),
		now:       time.Now,
		attempts:  ticket.DefaultAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = audittrail.NewRecorder(s.now)
	return s
}

// TaskDetail is a task with its workflow steps.
type TaskDetail struct {
	Task        *task.Task   `json:"task"`
	Steps       []*step.Step `json:"steps,omitempty"`
	CurrentStep *step.Step   `json:"current_step,omitempty"`
}

func newDetail(t *task.Task, steps []*step.Step) *TaskDetail {
	sortSteps(steps)
	return &TaskDetail{Task: t, Steps: steps, CurrentStep: CurrentStep(steps)}
}

func canView(a actor.Actor, t *task.Task, steps []*step.Step) bool {
	if a.CanEscalate() || a.Is(t.AssigneeID) || a.Is(t.AuditorID) || a.Is(t.CreatedBy) {
		return true
	}
	for _, s := range steps {
		if a.Is(s.AssigneeID) || a.Is(s.AuditorID) {
			return true
		}
	}
	return false
}

type CreateTaskInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	ContentData map[string]any     `json:"content_data"`
	AssigneeID  string             `json:"assignee_id"`
	AuditorID   string             `json:"auditor_id"`
	PlanDate    *time.Time         `json:"plan_date"`
	UseWorkflow bool               `json:"use_workflow"`
	Assignments map[int]Assignment `json:"assignments"`
}

func (in *CreateTaskInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if in.AssigneeID == "" {
		missing = append(missing, "assignee_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// CreateTask allocates a ticket id and stores a new assigned task, with its
// steps when a workflow is requested. The whole unit is rerun when the
// ticket id collides.
func (s *Service) CreateTask(ctx context.Context, a actor.Actor, in CreateTaskInput) (*TaskDetail, error) {
	if !a.CanEscalate() {
		return nil, toError(actor.Deny(a, "create tasks"))
	}
	if err := in.validate(); err != nil {
		return nil, toError(err)
	}
	cal, err := s.calendars.Calendar(ctx)
	if err != nil {
		return nil, toError(err)
	}

	var detail *TaskDetail
	err = ticket.Retry(ctx, s.attempts, func(ctx context.Context) error {
		return s.run(ctx, func(ctx context.Context, u *unit) error {
			now := u.now
			ticketID, err := ticket.Next(ctx, u.tx, now.In(cal.Location()))
			if err != nil {
				return err
			}
			t := &task.Task{
				ID:          ulid.Make().String(),
				TicketID:    ticketID,
				Title:       strings.TrimSpace(in.Title),
				Description: in.Description,
				ContentData: in.ContentData,
				Status:      task.StatusAssigned,
				CreatedBy:   a.ID,
				AssigneeID:  in.AssigneeID,
				AuditorID:   in.AuditorID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if in.PlanDate != nil {
				d := calendar.DateOf(*in.PlanDate)
				t.PlanDate = &d
			}
			if err := u.tx.CreateTask(ctx, t); err != nil {
				return err
			}
			u.task = t
			if err := u.record(ctx, a.ID, audittrail.Change{
				FieldName: audittrail.FieldAssignee,
				New:       t.AssigneeID,
				Notes:     "task created",
			}); err != nil {
				return err
			}
			if err := u.record(ctx, a.ID, audittrail.Change{
				FieldName: audittrail.FieldStatus,
				New:       string(t.Status),
			}); err != nil {
				return err
			}
			if t.PlanDate != nil {
				if err := u.record(ctx, a.ID, audittrail.Change{
					FieldName: audittrail.FieldPlanDate,
					New:       task.FormatDate(t.PlanDate),
				}); err != nil {
					return err
				}
			}
			if in.UseWorkflow {
				templates, err := u.tx.ListTemplates(ctx)
				if err != nil {
					return err
				}
				steps, err := MaterializeSteps(cal, t, templates, in.Assignments)
				if err != nil {
					return err
				}
				if err := u.tx.CreateSteps(ctx, steps); err != nil {
					return err
				}
				u.steps = steps
				u.planned += len(steps)
				for _, st := range steps {
					if err := u.record(ctx, a.ID, audittrail.Change{
						StepOrder: st.Order,
						FieldName: audittrail.FieldPlannedPTP,
						New:       task.FormatInstant(st.PlannedPTP),
						Notes:     fmt.Sprintf("%s planned for %v business hours", st.Name, st.TATHours),
					}); err != nil {
						return err
					}
				}
			}
			detail = newDetail(t, u.steps)
			return nil
		})
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

func (s *Service) GetTask(ctx context.Context, a actor.Actor, id string) (*TaskDetail, error) {
	var detail *TaskDetail
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, id)
		if err != nil {
			return err
		}
		if !canView(a, t, steps) {
			return actor.Deny(a, "view "+t.TicketID)
		}
		detail = newDetail(t, steps)
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

// ListTasks lists tasks visible to the actor. Auditors see the tasks they
// audit and assignees the tasks assigned to them.
func (s *Service) ListTasks(ctx context.Context, a actor.Actor, f store.TaskFilter) ([]*task.Task, int, error) {
	switch {
	case a.CanEscalate():
	case a.Role == actor.RoleAuditor:
		f.AuditorID = a.ID
	default:
		f.AssigneeID = a.ID
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	var (
		tasks []*task.Task
		total int
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		tasks, total, err = tx.ListTasks(ctx, f)
		return err
	})
	if err != nil {
		return nil, 0, toError(err)
	}
	return tasks, total, nil
}

// DeleteTask removes a task with its steps and audit trail.
func (s *Service) DeleteTask(ctx context.Context, a actor.Actor, id string) error {
	if !a.CanEscalate() {
		return toError(actor.Deny(a, "delete tasks"))
	}
	var ticketID string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTaskForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ticketID = t.TicketID
		return tx.DeleteTask(ctx, id)
	})
	if err != nil {
		return toError(err)
	}
	if s.documents != nil {
		// Orphaned documents are harmless; the task is already gone.
		if n, err := s.documents.DeleteDocuments(ctx, ticketID); err != nil {
			slog.WarnContext(ctx, "failed to delete task documents", "ticket_id", ticketID, "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "deleted task documents", "ticket_id", ticketID, "count", n)
		}
	}
	return nil
}

func (s *Service) ListSteps(ctx context.Context, a actor.Actor, taskID string) ([]*step.Step, error) {
	detail, err := s.GetTask(ctx, a, taskID)
	if err != nil {
		return nil, err
	}
	return detail.Steps, nil
}

func (s *Service) ListAuditTrail(ctx context.Context, a actor.Actor, taskID string) ([]*audittrail.Entry, error) {
	var entries []*audittrail.Entry
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, taskID)
		if err != nil {
			return err
		}
		if !canView(a, t, steps) {
			return actor.Deny(a, "view "+t.TicketID)
		}
		entries, err = tx.ListAudit(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, toError(err)
	}
	return entries, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]*step.Template, error) {
	var templates []*step.Template
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		templates, err = tx.ListTemplates(ctx)
		return err
	})
	if err != nil {
		return nil, toError(err)
	}
	return templates, nil
}

// SaveTemplate creates a template when tpl.ID is empty and replaces it
// otherwise. Existing steps keep the values they were materialized with.
func (s *Service) SaveTemplate(ctx context.Context, a actor.Actor, tpl step.Template) (*step.Template, error) {
	if !a.CanEscalate() {
		return nil, toError(actor.Deny(a, "edit step templates"))
	}
	if err := tpl.Validate(); err != nil {
		return nil, toError(err)
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.saveTemplate(ctx, tx, &tpl)
	})
	if err != nil {
		return nil, toError(err)
	}
	return &tpl, nil
}

func (s *Service) saveTemplate(ctx context.Context, tx store.Tx, tpl *step.Template) error {
	now := s.now()
	if tpl.ID == "" {
		tpl.ID = ulid.Make().String()
		tpl.CreatedAt = now
	} else {
		existing, err := tx.GetTemplate(ctx, tpl.ID)
		if err != nil {
			return err
		}
		tpl.CreatedAt = existing.CreatedAt
	}
	tpl.UpdatedAt = now
	templates, err := tx.ListTemplates(ctx)
	if err != nil {
		return err
	}
	if err := step.ValidateActiveSet(templates, tpl); err != nil {
		return err
	}
	return tx.SaveTemplate(ctx, tpl)
}

// GetCalendar returns the persisted business hours and holidays.
func (s *Service) GetCalendar(ctx context.Context) ([]calendar.BusinessHours, []calendar.Holiday, error) {
	cal, err := s.calendars.Calendar(ctx)
	if err != nil {
		return nil, nil, toError(err)
	}
	_, holidays, err := s.store.LoadCalendar(ctx)
	if err != nil {
		return nil, nil, toError(err)
	}
	return cal.BusinessHours(), holidays, nil
}

func (s *Service) editCalendar(ctx context.Context, a actor.Actor, fn func(ctx context.Context, tx store.Tx) error) error {
	if !a.CanEscalate() {
		return toError(actor.Deny(a, "edit the business calendar"))
	}
	if err := s.store.RunInTx(ctx, fn); err != nil {
		return toError(err)
	}
	s.calendars.Invalidate()
	return nil
}

// SetBusinessHours replaces the weekly working windows. Deadlines already
// planned are not recomputed.
func (s *Service) SetBusinessHours(ctx context.Context, a actor.Actor, hours []calendar.BusinessHours) error {
	if err := calendar.Validate(hours); err != nil {
		return toError(err)
	}
	return s.editCalendar(ctx, a, func(ctx context.Context, tx store.Tx) error {
		return tx.SetBusinessHours(ctx, hours)
	})
}

func (s *Service) AddHoliday(ctx context.Context, a actor.Actor, h calendar.Holiday) error {
	if h.Date.IsZero() {
		return toError(fmt.Errorf("%w: holiday date is required", ErrInvalidInput))
	}
	h.Date = calendar.DateOf(h.Date)
	return s.editCalendar(ctx, a, func(ctx context.Context, tx store.Tx) error {
		return tx.AddHoliday(ctx, h)
	})
}

func (s *Service) RemoveHoliday(ctx context.Context, a actor.Actor, date time.Time) error {
	return s.editCalendar(ctx, a, func(ctx context.Context, tx store.Tx) error {
		return tx.RemoveHoliday(ctx, date.Format(calendar.DateLayout))
	})
}

// ImportDocument writes the calendar and templates of doc in one unit of
// work. Templates are matched to existing ones by order.
func (s *Service) ImportDocument(ctx context.Context, a actor.Actor, doc *calendar.Document) error {
	hours, err := doc.Hours()
	if err != nil {
		return toError(err)
	}
	holidays, err := doc.ParsedHolidays()
	if err != nil {
		return toError(err)
	}
	return s.editCalendar(ctx, a, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetBusinessHours(ctx, hours); err != nil {
			return err
		}
		for _, h := range holidays {
			if err := tx.AddHoliday(ctx, h); err != nil {
				return err
			}
		}
		existing, err := tx.ListTemplates(ctx)
		if err != nil {
			return err
		}
		byOrder := make(map[int]*step.Template, len(existing))
		for _, tpl := range existing {
			byOrder[tpl.Order] = tpl
		}
		for _, dt := range doc.StepTemplates {
			tpl := step.Template{
				Name:          dt.Name,
				Order:         dt.Order,
				TATHours:      dt.TATHours,
				RequiresAudit: dt.RequiresAudit == nil || *dt.RequiresAudit,
				IsActive:      dt.Active == nil || *dt.Active,
			}
			if prev, ok := byOrder[dt.Order]; ok {
				tpl.ID = prev.ID
			}
			if err := tpl.Validate(); err != nil {
				return err
			}
			if err := s.saveTemplate(ctx, tx, &tpl); err != nil {
				return err
			}
		}
		return nil
	})
}

// PreviewDeadline plans a deadline against the current calendar without
// storing anything.
func (s *Service) PreviewDeadline(ctx context.Context, start time.Time, tatHours float64) (time.Time, error) {
	if err := scheduler.ValidateTAT(tatHours); err != nil {
		return time.Time{}, toError(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	deadline, err := s.scheduler.PlanDeadline(ctx, start, tatHours)
	if err != nil {
		return time.Time{}, toError(err)
	}
	return deadline, nil
}

// unit carries the state of one unit of work.
type unit struct {
	svc     *Service
	tx      store.Tx
	now     time.Time
	cal     *calendar.Calendar
	task    *task.Task
	steps   []*step.Step
	dirty   bool
	planned int
	taskTo  []task.Status
	stepTo  []step.Status
	// uploads are documents written during the unit; they are removed again
	// when the unit rolls back.
	uploads []*submission.Submission
}

// run executes fn as one unit of work and publishes metrics after commit.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, u *unit) error) error {
	var (
		committed *unit
		uploads   []*submission.Submission
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u := &unit{svc: s, tx: tx, now: s.now()}
		err := fn(ctx, u)
		uploads = append(uploads, u.uploads...)
		if err != nil {
			return err
		}
		if err := u.flush(ctx); err != nil {
			return err
		}
		committed = u
		return nil
	})
	if err != nil {
		s.discardUploads(ctx, uploads)
		return err
	}
	committed.publish()
	return nil
}

// discardUploads removes documents of a rolled-back unit. Anything a failed
// delete leaves behind still carries the ticket prefix and goes with the task.
func (s *Service) discardUploads(ctx context.Context, uploads []*submission.Submission) {
	if s.documents == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, sub := range uploads {
		_ = s.documents.DeleteDocument(ctx, sub)
	}
}

func (u *unit) publish() {
	for _, to := range u.taskTo {
		observability.TaskTransitions.WithLabelValues(string(to)).Inc()
	}
	for _, to := range u.stepTo {
		observability.StepTransitions.WithLabelValues(string(to)).Inc()
	}
	if u.planned > 0 {
		observability.DeadlinesPlanned.Add(float64(u.planned))
	}
}

func (u *unit) record(ctx context.Context, actorID string, c audittrail.Change) error {
	_, err := u.svc.recorder.Record(ctx, u.tx, u.task.ID, actorID, c)
	return err
}

func (u *unit) recordAll(ctx context.Context, actorID string, changes []audittrail.Change) error {
	return u.svc.recorder.RecordAll(ctx, u.tx, u.task.ID, actorID, changes)
}

func (u *unit) calendar(ctx context.Context) (*calendar.Calendar, error) {
	if u.cal == nil {
		cal, err := u.svc.calendars.Calendar(ctx)
		if err != nil {
			return nil, err
		}
		u.cal = cal
	}
	return u.cal, nil
}

// load locks the task and reads its steps.
func (u *unit) load(ctx context.Context, taskID string) error {
	t, err := u.tx.GetTaskForUpdate(ctx, taskID)
	if err != nil {
		return err
	}
	steps, err := u.tx.ListSteps(ctx, taskID)
	if err != nil {
		return err
	}
	sortSteps(steps)
	u.task = t
	u.steps = steps
	return nil
}

func (u *unit) flush(ctx context.Context) error {
	if !u.dirty {
		return nil
	}
	u.dirty = false
	return u.tx.UpdateTask(ctx, u.task)
}

func (u *unit) detail() *TaskDetail {
	return newDetail(u.task, u.steps)
}
