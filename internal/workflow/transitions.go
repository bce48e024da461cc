package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/task"
)

func (u *unit) transitionTask(ctx context.Context, to task.Status, a actor.Actor, notes string) error {
	auditor, revisions := u.task.AuditorID, u.task.RevisionCount
	c, err := u.task.Transition(to, a, notes, u.now)
	if err != nil {
		return err
	}
	u.dirty = true
	u.taskTo = append(u.taskTo, to)
	changes := append([]audittrail.Change{c}, followUps(0, auditor, u.task.AuditorID, revisions, u.task.RevisionCount)...)
	return u.recordAll(ctx, a.ID, changes)
}

// followUps describes the fields a status change touched besides the status:
// an auditor assigned by default and a revision counted by a failed audit.
func followUps(order int, prevAuditor, auditor string, prevRevisions, revisions int) []audittrail.Change {
	var changes []audittrail.Change
	if auditor != prevAuditor {
		changes = append(changes, audittrail.Change{
			StepOrder: order,
			FieldName: audittrail.FieldAuditor,
			Previous:  prevAuditor,
			New:       auditor,
			Notes:     "auditor defaulted to the task creator",
		})
	}
	if revisions != prevRevisions {
		changes = append(changes, audittrail.Change{
			StepOrder: order,
			FieldName: audittrail.FieldRevisionCount,
			Previous:  strconv.Itoa(prevRevisions),
			New:       strconv.Itoa(revisions),
		})
	}
	return changes
}

// transitionStep moves one step and applies what follows from it: a step
// that needs no audit passes as soon as it is completed, and the next step's
// ATP is replanned from the actual completion.
func (u *unit) transitionStep(ctx context.Context, st *step.Step, to step.Status, a actor.Actor, notes string) error {
	if to == step.StatusInProgress && st.Status == step.StatusPending {
		if current := CurrentStep(u.steps); current == nil || current.ID != st.ID {
			return fmt.Errorf("step %d: previous steps are still open: %w", st.Order, step.ErrInvalidTransition)
		}
	}
	auditor, revisions := st.AuditorID, st.RevisionCount
	c, err := st.Transition(to, a, u.task.CreatedBy, notes, u.now)
	if err != nil {
		return err
	}
	if err := u.tx.UpdateStep(ctx, st); err != nil {
		return err
	}
	u.stepTo = append(u.stepTo, to)
	changes := append([]audittrail.Change{c}, followUps(st.Order, auditor, st.AuditorID, revisions, st.RevisionCount)...)
	if err := u.recordAll(ctx, a.ID, changes); err != nil {
		return err
	}
	if to != step.StatusCompleted {
		return nil
	}

	if next := NextStep(u.steps, st); next != nil {
		cal, err := u.calendar(ctx)
		if err != nil {
			return err
		}
		change, changed, err := RecomputeATP(cal, st, next, u.now)
		if err != nil {
			return err
		}
		u.planned++
		if changed {
			if err := u.tx.UpdateStep(ctx, next); err != nil {
				return err
			}
			if err := u.record(ctx, actor.System.ID, change); err != nil {
				return err
			}
		}
	}
	if !st.RequiresAudit {
		return u.transitionStep(ctx, st, step.StatusAuditPassed, a, "audit not required")
	}
	return nil
}

// sync derives the task status from the steps and records the result as a
// system change.
func (u *unit) sync(ctx context.Context) error {
	before := u.task.Clone()
	changes := SyncTaskStatus(u.task, u.steps, u.now)
	if len(changes) == 0 && sameCompletion(before, u.task) {
		return nil
	}
	u.dirty = true
	for _, c := range changes {
		u.taskTo = append(u.taskTo, task.Status(c.New))
		if err := u.record(ctx, actor.System.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func sameCompletion(a, b *task.Task) bool {
	return timeEqual(a.CompletedAt, b.CompletedAt) && timeEqual(a.AuditDecidedAt, b.AuditDecidedAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// cancel cancels the task and every open step.
func (u *unit) cancel(ctx context.Context, a actor.Actor, notes string) error {
	if err := u.transitionTask(ctx, task.StatusCancelled, a, notes); err != nil {
		return err
	}
	for _, st := range u.steps {
		if st.Status.IsClosed() {
			continue
		}
		if err := u.transitionStep(ctx, st, step.StatusCancelled, a, notes); err != nil {
			return err
		}
	}
	return nil
}

func (u *unit) stepByOrder(order int) (*step.Step, error) {
	for _, st := range u.steps {
		if st.Order == order {
			return st, nil
		}
	}
	return nil, fmt.Errorf("step %d of %s: %w", order, u.task.TicketID, store.ErrNotFound)
}

// TransitionTask applies one edge of the task transition table. Tasks driven
// by workflow steps only accept cancellation, which cascades to open steps.
func (s *Service) TransitionTask(ctx context.Context, a actor.Actor, taskID string, to task.Status, notes string) (*TaskDetail, error) {
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		if len(u.steps) > 0 {
			if to != task.StatusCancelled {
				return fmt.Errorf("task %s follows its workflow steps, %s -> %s: %w", u.task.TicketID, u.task.Status, to, task.ErrInvalidTransition)
			}
			if err := u.cancel(ctx, a, notes); err != nil {
				return err
			}
		} else if err := u.transitionTask(ctx, to, a, notes); err != nil {
			return err
		}
		detail = u.detail()
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

// TransitionStep moves the step with the given order and resynchronizes the
// task status.
func (s *Service) TransitionStep(ctx context.Context, a actor.Actor, taskID string, order int, to step.Status, notes string) (*TaskDetail, error) {
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		if u.task.Status.IsTerminal() {
			return fmt.Errorf("task %s is %s: %w", u.task.TicketID, u.task.Status, task.ErrInvalidTransition)
		}
		st, err := u.stepByOrder(order)
		if err != nil {
			return err
		}
		if err := u.transitionStep(ctx, st, to, a, notes); err != nil {
			return err
		}
		if err := u.sync(ctx); err != nil {
			return err
		}
		detail = u.detail()
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

// SyncTaskStatus rederives the aggregate status of a workflow task. It
// changes and records nothing when the task is already in sync.
func (s *Service) SyncTaskStatus(ctx context.Context, taskID string) (*TaskDetail, error) {
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		if err := u.sync(ctx); err != nil {
			return err
		}
		detail = u.detail()
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

// UpdatePlanDate changes the task's plan date. Only the auditor and
// escalation roles may move it.
func (s *Service) UpdatePlanDate(ctx context.Context, a actor.Actor, taskID string, date time.Time, notes string) (*TaskDetail, error) {
	if date.IsZero() {
		return nil, toError(fmt.Errorf("%w: plan_date is required", ErrInvalidInput))
	}
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		if !a.CanEscalate() && !a.Is(u.task.AuditorID) {
			return actor.Deny(a, "move the plan date of "+u.task.TicketID)
		}
		if err := u.setPlanDate(ctx, a, date, notes); err != nil {
			return err
		}
		detail = u.detail()
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

func (u *unit) setPlanDate(ctx context.Context, a actor.Actor, date time.Time, notes string) error {
	c, changed := u.task.SetPlanDate(date, notes, u.now)
	if !changed {
		return nil
	}
	u.dirty = true
	return u.record(ctx, a.ID, c)
}

// SubmissionInput is either an uploaded document or a Google Sheets link.
type SubmissionInput struct {
	DocumentName string `json:"document_name,omitempty"`
	Document     []byte `json:"document,omitempty"`
	SheetURL     string `json:"sheet_url,omitempty"`
}

func (in *SubmissionInput) empty() bool {
	return in == nil || (in.DocumentName == "" && len(in.Document) == 0 && in.SheetURL == "")
}

func (u *unit) buildSubmission(ctx context.Context, order int, in *SubmissionInput) (*submission.Submission, error) {
	if in.SheetURL != "" {
		return submission.SheetLink(in.SheetURL, u.now)
	}
	if u.svc.documents == nil {
		return nil, fmt.Errorf("%w: document uploads are not configured", submission.ErrInvalidSubmission)
	}
	sub, err := u.svc.documents.SaveDocument(ctx, u.task.TicketID, order, in.DocumentName, in.Document, u.now)
	if err != nil {
		return nil, err
	}
	u.uploads = append(u.uploads, sub)
	return sub, nil
}

// attach stores a submission on the task, or on the step when st is not nil.
func (u *unit) attach(ctx context.Context, a actor.Actor, st *step.Step, in *SubmissionInput) error {
	order := 0
	if st != nil {
		order = st.Order
	}
	sub, err := u.buildSubmission(ctx, order, in)
	if err != nil {
		return err
	}
	c := audittrail.Change{New: sub.Value()}
	if sub.Type == submission.TypeSheetLink {
		c.FieldName = audittrail.FieldSheetURL
		c.Notes = "completion sheet link provided"
	} else {
		c.FieldName = audittrail.FieldDocumentFile
		c.Notes = "completion document uploaded"
	}
	if st != nil {
		c.StepOrder = st.Order
		c.Previous = st.Submission.Value()
		st.Submission = sub
		st.UpdatedAt = u.now
		if err := u.tx.UpdateStep(ctx, st); err != nil {
			return err
		}
	} else {
		c.Previous = u.task.Submission.Value()
		u.task.Submission = sub
		u.task.UpdatedAt = u.now
		u.dirty = true
	}
	return u.record(ctx, a.ID, c)
}

// Submit attaches work product to a task (order 0) or to one of its steps
// without changing any status.
func (s *Service) Submit(ctx context.Context, a actor.Actor, taskID string, order int, in SubmissionInput) (*TaskDetail, error) {
	if in.empty() {
		return nil, toError(fmt.Errorf("%w: a document or sheet link is required", submission.ErrInvalidSubmission))
	}
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		var st *step.Step
		assignee := u.task.AssigneeID
		if order > 0 {
			var err error
			if st, err = u.stepByOrder(order); err != nil {
				return err
			}
			assignee = st.AssigneeID
		}
		if !a.Is(assignee) {
			return actor.Deny(a, "submit work for "+u.task.TicketID)
		}
		if err := u.attach(ctx, a, st, &in); err != nil {
			return err
		}
		detail = u.detail()
		return nil
	})
	if err != nil {
		return nil, toError(err)
	}
	return detail, nil
}

// ReadDocument returns the uploaded document of a task (order 0) or step.
func (s *Service) ReadDocument(ctx context.Context, a actor.Actor, taskID string, order int) ([]byte, string, error) {
	if s.documents == nil {
		return nil, "", toError(fmt.Errorf("%w: document uploads are not configured", submission.ErrInvalidSubmission))
	}
	detail, err := s.GetTask(ctx, a, taskID)
	if err != nil {
		return nil, "", err
	}
	sub := detail.Task.Submission
	if order > 0 {
		sub = nil
		for _, st := range detail.Steps {
			if st.Order == order {
				sub = st.Submission
			}
		}
	}
	data, err := s.documents.ReadDocument(ctx, sub)
	if err != nil {
		return nil, "", toError(err)
	}
	return data, sub.DocumentName, nil
}
