// Package workflow coordinates tasks with their ordered steps: it
// materializes steps from templates, propagates planned deadlines and derives
// the aggregate task status. Every mutating operation of Service runs as one
// unit of work of the store.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/scheduler"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/task"
)

// ErrNoActiveTemplates is returned when a workflow is requested but no step
// template is active.
var ErrNoActiveTemplates = errors.New("no active step templates")

// Assignment names the people responsible for one step order. Empty fields
// fall back to the task's assignee and auditor.
type Assignment struct {
	AssigneeID string `json:"assignee_id"`
	AuditorID  string `json:"auditor_id"`
}

// MaterializeSteps creates one pending step per active template, in order.
// The first step's PTP is planned from the task's creation instant and each
// following PTP from the previous step's PTP.
func MaterializeSteps(cal *calendar.Calendar, t *task.Task, templates []*step.Template, assignments map[int]Assignment) ([]*step.Step, error) {
	active := step.ActiveSorted(templates)
	if len(active) == 0 {
		return nil, ErrNoActiveTemplates
	}
	steps := make([]*step.Step, 0, len(active))
	seed := t.CreatedAt
	for _, tpl := range active {
		ptp, err := scheduler.PlanDeadline(cal, seed, tpl.TATHours)
		if err != nil {
			return nil, fmt.Errorf("failed to plan step %d: %w", tpl.Order, err)
		}
		as := assignments[tpl.Order]
		if as.AssigneeID == "" {
			as.AssigneeID = t.AssigneeID
		}
		if as.AuditorID == "" {
			as.AuditorID = t.AuditorID
		}
		steps = append(steps, &step.Step{
			ID:            ulid.Make().String(),
			TaskID:        t.ID,
			TemplateID:    tpl.ID,
			Name:          tpl.Name,
			Order:         tpl.Order,
			TATHours:      tpl.TATHours,
			RequiresAudit: tpl.RequiresAudit,
			Status:        step.StatusPending,
			AssigneeID:    as.AssigneeID,
			AuditorID:     as.AuditorID,
			PlannedPTP:    &ptp,
			CreatedAt:     t.CreatedAt,
			UpdatedAt:     t.CreatedAt,
		})
		seed = ptp
	}
	return steps, nil
}

func sortSteps(steps []*step.Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
}

// CurrentStep returns the lowest-order step that is neither passed nor
// cancelled, or nil.
func CurrentStep(steps []*step.Step) *step.Step {
	var current *step.Step
	for _, s := range steps {
		if s.Status.IsClosed() {
			continue
		}
		if current == nil || s.Order < current.Order {
			current = s
		}
	}
	return current
}

// IsComplete reports whether every step passed audit. A task without steps
// is never complete.
func IsComplete(steps []*step.Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if s.Status != step.StatusAuditPassed {
			return false
		}
	}
	return true
}

var stepToTaskStatus = map[step.Status]task.Status{
	step.StatusPending:     task.StatusAssigned,
	step.StatusInProgress:  task.StatusInProgress,
	step.StatusCompleted:   task.StatusCompleted,
	step.StatusUnderAudit:  task.StatusUnderAudit,
	step.StatusAuditFailed: task.StatusAuditFailed,
	step.StatusAuditPassed: task.StatusInProgress,
}

// DeriveStatus returns the aggregate status implied by the steps.
func DeriveStatus(steps []*step.Step) (task.Status, bool) {
	if len(steps) == 0 {
		return "", false
	}
	if IsComplete(steps) {
		return task.StatusAuditPassed, true
	}
	current := CurrentStep(steps)
	if current == nil {
		// Every step is closed and at least one was cancelled.
		return task.StatusCancelled, true
	}
	st, ok := stepToTaskStatus[current.Status]
	return st, ok
}

// SyncTaskStatus aligns the task with its steps and returns the changes to
// record. Running it again without a step change returns nothing and leaves
// the task untouched.
func SyncTaskStatus(t *task.Task, steps []*step.Step, now time.Time) []audittrail.Change {
	target, ok := DeriveStatus(steps)
	if !ok || t.Status == task.StatusCancelled {
		return nil
	}
	var changes []audittrail.Change
	if t.Status != target {
		changes = append(changes, audittrail.Change{
			FieldName: audittrail.FieldStatus,
			Previous:  string(t.Status),
			New:       string(target),
			Notes:     "derived from workflow steps",
		})
		t.Status = target
		t.UpdatedAt = now
	}
	if target == task.StatusAuditPassed {
		if t.CompletedAt == nil {
			t.CompletedAt = lastCompletion(steps, now)
			t.UpdatedAt = now
		}
		if t.AuditDecidedAt == nil {
			t.AuditDecidedAt = &now
			t.UpdatedAt = now
		}
	}
	return changes
}

func lastCompletion(steps []*step.Step, now time.Time) *time.Time {
	var last *time.Time
	for _, s := range steps {
		if s.CompletedAt != nil && (last == nil || s.CompletedAt.After(*last)) {
			v := *s.CompletedAt
			last = &v
		}
	}
	if last == nil {
		last = &now
	}
	return last
}

// NextStep returns the open step that follows s in order, or nil.
func NextStep(steps []*step.Step, s *step.Step) *step.Step {
	var next *step.Step
	for _, candidate := range steps {
		if candidate.Order <= s.Order || candidate.Status.IsClosed() {
			continue
		}
		if next == nil || candidate.Order < next.Order {
			next = candidate
		}
	}
	return next
}

// RecomputeATP plans next's ATP from the actual completion of prev. It
// reports false when prev has no completion or the ATP did not change.
func RecomputeATP(cal *calendar.Calendar, prev, next *step.Step, now time.Time) (audittrail.Change, bool, error) {
	if prev.CompletedAt == nil || next == nil {
		return audittrail.Change{}, false, nil
	}
	atp, err := scheduler.PlanDeadline(cal, *prev.CompletedAt, next.TATHours)
	if err != nil {
		return audittrail.Change{}, false, fmt.Errorf("failed to plan step %d: %w", next.Order, err)
	}
	previous := task.FormatInstant(next.PlannedATP)
	if next.PlannedATP != nil && next.PlannedATP.Equal(atp) {
		return audittrail.Change{}, false, nil
	}
	next.PlannedATP = &atp
	next.UpdatedAt = now
	return audittrail.Change{
		StepOrder: next.Order,
		FieldName: audittrail.FieldPlannedATP,
		Previous:  previous,
		New:       task.FormatInstant(&atp),
		Notes:     fmt.Sprintf("replanned from step %d completion", prev.Order),
	}, true, nil
}
