package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/task"
)

// Action is a user-facing operation that may span several transitions.
type Action string

const (
	ActionStart     Action = "start"
	ActionComplete  Action = "complete"
	ActionAuditPass Action = "audit_pass"
	ActionAuditFail Action = "audit_fail"
	ActionCancel    Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionComplete, ActionAuditPass, ActionAuditFail, ActionCancel:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
	}
}

type ActionInput struct {
	Action Action `json:"action"`
	Notes  string `json:"notes"`
	// NewPlanDate is applied before a failed audit returns the work.
	NewPlanDate *time.Time       `json:"new_plan_date,omitempty"`
	Submission  *SubmissionInput `json:"submission,omitempty"`
}

const (
	notesAutoAudit = "auto-assigned for audit"
	notesRevision  = "returned for revision"
	notesPlanDate  = "new deadline set by auditor after audit failure"
)

// Perform runs a compound action on the task, or on its current step when
// the task follows a workflow:
//
//	start       -> in_progress
//	complete    -> completed, then under_audit (or audit_passed without audit)
//	audit_pass  -> audit_passed
//	audit_fail  -> audit_failed, then back to in_progress
//	cancel      -> cancelled
//
// Completing requires a submission, either attached earlier or in the input.
func (s *Service) Perform(ctx context.Context, a actor.Actor, taskID string, in ActionInput) (*TaskDetail, error) {
	if _, err := ParseAction(string(in.Action)); err != nil {
		return nil, toError(err)
	}
	var detail *TaskDetail
	err := s.run(ctx, func(ctx context.Context, u *unit) error {
		if err := u.load(ctx, taskID); err != nil {
			return err
		}
		var err error
		if len(u.steps) == 0 {
			err = u.performOnTask(ctx, a, in)
		} else {
			err = u.performOnStep(ctx, a, in)
		}
		if err != nil {
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

func (u *unit) performOnTask(ctx context.Context, a actor.Actor, in ActionInput) error {
	switch in.Action {
	case ActionStart:
		return u.transitionTask(ctx, task.StatusInProgress, a, in.Notes)
	case ActionComplete:
		if !task.CanTransition(u.task.Status, task.StatusCompleted) {
			return fmt.Errorf("task %s: %s -> %s: %w", u.task.TicketID, u.task.Status, task.StatusCompleted, task.ErrInvalidTransition)
		}
		if !a.Is(u.task.AssigneeID) {
			return actor.Deny(a, "complete "+u.task.TicketID)
		}
		if err := u.requireSubmission(ctx, a, nil, in.Submission); err != nil {
			return err
		}
		if err := u.transitionTask(ctx, task.StatusCompleted, a, in.Notes); err != nil {
			return err
		}
		return u.transitionTask(ctx, task.StatusUnderAudit, a, notesAutoAudit)
	case ActionAuditPass:
		return u.transitionTask(ctx, task.StatusAuditPassed, a, in.Notes)
	case ActionAuditFail:
		if !task.CanTransition(u.task.Status, task.StatusAuditFailed) {
			return fmt.Errorf("task %s: %s -> %s: %w", u.task.TicketID, u.task.Status, task.StatusAuditFailed, task.ErrInvalidTransition)
		}
		if err := u.transitionTask(ctx, task.StatusAuditFailed, a, in.Notes); err != nil {
			return err
		}
		if in.NewPlanDate != nil {
			if err := u.setPlanDate(ctx, a, *in.NewPlanDate, notesPlanDate); err != nil {
				return err
			}
		}
		return u.transitionTask(ctx, task.StatusInProgress, a, notesRevision)
	case ActionCancel:
		return u.transitionTask(ctx, task.StatusCancelled, a, in.Notes)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, in.Action)
}

func (u *unit) performOnStep(ctx context.Context, a actor.Actor, in ActionInput) error {
	if in.Action == ActionCancel {
		return u.cancel(ctx, a, in.Notes)
	}
	st := CurrentStep(u.steps)
	if st == nil {
		return fmt.Errorf("task %s has no open step: %w", u.task.TicketID, step.ErrInvalidTransition)
	}
	var err error
	switch in.Action {
	case ActionStart:
		err = u.transitionStep(ctx, st, step.StatusInProgress, a, in.Notes)
	case ActionComplete:
		if !st.CanTransition(step.StatusCompleted) {
			return fmt.Errorf("step %d: %s -> %s: %w", st.Order, st.Status, step.StatusCompleted, step.ErrInvalidTransition)
		}
		if !a.Is(st.AssigneeID) {
			return actor.Deny(a, fmt.Sprintf("complete step %d", st.Order))
		}
		if err := u.requireSubmission(ctx, a, st, in.Submission); err != nil {
			return err
		}
		if err := u.transitionStep(ctx, st, step.StatusCompleted, a, in.Notes); err != nil {
			return err
		}
		if st.RequiresAudit {
			err = u.transitionStep(ctx, st, step.StatusUnderAudit, a, notesAutoAudit)
		}
	case ActionAuditPass:
		err = u.transitionStep(ctx, st, step.StatusAuditPassed, a, in.Notes)
	case ActionAuditFail:
		if err := u.transitionStep(ctx, st, step.StatusAuditFailed, a, in.Notes); err != nil {
			return err
		}
		if in.NewPlanDate != nil {
			if err := u.setPlanDate(ctx, a, *in.NewPlanDate, notesPlanDate); err != nil {
				return err
			}
		}
		err = u.transitionStep(ctx, st, step.StatusInProgress, a, notesRevision)
	}
	if err != nil {
		return err
	}
	return u.sync(ctx)
}

func (u *unit) requireSubmission(ctx context.Context, a actor.Actor, st *step.Step, in *SubmissionInput) error {
	if !in.empty() {
		return u.attach(ctx, a, st, in)
	}
	if st != nil && st.Submission != nil {
		return nil
	}
	if st == nil && u.task.Submission != nil {
		return nil
	}
	return fmt.Errorf("%w: completed work needs a document or sheet link", ErrInvalidInput)
}

// AvailableActions lists the actions a may perform on the task or its
// current step right now.
func AvailableActions(a actor.Actor, t *task.Task, steps []*step.Step) []Action {
	var actions []Action
	if len(steps) == 0 {
		auditor := t.AuditorID
		if auditor == "" {
			auditor = t.CreatedBy
		}
		switch {
		case t.Status == task.StatusAssigned && a.Is(t.AssigneeID):
			actions = append(actions, ActionStart)
		case t.Status == task.StatusInProgress && a.Is(t.AssigneeID):
			actions = append(actions, ActionComplete)
		case t.Status == task.StatusUnderAudit && (a.Is(auditor) || a.CanEscalate()):
			actions = append(actions, ActionAuditPass, ActionAuditFail)
		}
	} else if st := CurrentStep(steps); st != nil && !t.Status.IsTerminal() {
		auditor := st.AuditorID
		if auditor == "" {
			auditor = t.CreatedBy
		}
		switch {
		case (st.Status == step.StatusPending || st.Status == step.StatusAuditFailed) && a.Is(st.AssigneeID):
			actions = append(actions, ActionStart)
		case st.Status == step.StatusInProgress && a.Is(st.AssigneeID):
			actions = append(actions, ActionComplete)
		case st.Status == step.StatusUnderAudit && (a.Is(auditor) || a.CanEscalate()):
			actions = append(actions, ActionAuditPass, ActionAuditFail)
		}
	}
	if a.CanEscalate() && !t.Status.IsTerminal() {
		actions = append(actions, ActionCancel)
	}
	return actions
}

// AvailableActions loads the task and lists the actions open to a.
func (s *Service) AvailableActions(ctx context.Context, a actor.Actor, taskID string) ([]Action, error) {
	detail, err := s.GetTask(ctx, a, taskID)
	if err != nil {
		return nil, err
	}
	return AvailableActions(a, detail.Task, detail.Steps), nil
}
