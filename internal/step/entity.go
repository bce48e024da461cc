// Package step implements the per-step state machine of a task workflow.
package step

import (
	"fmt"
	"time"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/submission"
)

// Step is one materialized step of one task. Order, TATHours and
// RequiresAudit are copied from the template and never change.
type Step struct {
	ID               string                 `json:"id"`
	TaskID           string                 `json:"task_id"`
	TemplateID       string                 `json:"template_id,omitempty"`
	Name             string                 `json:"name"`
	Order            int                    `json:"order"`
	TATHours         float64                `json:"tat_hours"`
	RequiresAudit    bool                   `json:"requires_audit"`
	Status           Status                 `json:"status"`
	AssigneeID       string                 `json:"assignee_id"`
	AuditorID        string                 `json:"auditor_id,omitempty"`
	PlannedPTP       *time.Time             `json:"planned_ptp,omitempty"`
	PlannedATP       *time.Time             `json:"planned_atp,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	AuditCompletedAt *time.Time             `json:"audit_completed_at,omitempty"`
	RevisionCount    int                    `json:"revision_count"`
	AuditNotes       string                 `json:"audit_notes,omitempty"`
	Submission       *submission.Submission `json:"submission,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func (s *Step) Clone() *Step {
	c := *s
	c.PlannedPTP = cloneTime(s.PlannedPTP)
	c.PlannedATP = cloneTime(s.PlannedATP)
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.AuditCompletedAt = cloneTime(s.AuditCompletedAt)
	if s.Submission != nil {
		sub := *s.Submission
		c.Submission = &sub
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Deadline is the effective due instant: ATP once known, PTP before.
func (s *Step) Deadline() *time.Time {
	if s.PlannedATP != nil {
		return s.PlannedATP
	}
	return s.PlannedPTP
}

func (s *Step) allows(to Status) bool {
	if s.Status == StatusCompleted && to == StatusAuditPassed && s.RequiresAudit {
		return false
	}
	if s.Status == StatusCompleted && to == StatusUnderAudit && !s.RequiresAudit {
		return false
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether the edge exists for this step, ignoring
// guards.
func (s *Step) CanTransition(to Status) bool {
	return s.allows(to)
}

// Transition moves the step to the given status. creatorID is the task
// creator, who becomes the auditor when the step enters under_audit without
// one. On error the step is unchanged.
func (s *Step) Transition(to Status, a actor.Actor, creatorID, notes string, now time.Time) (audittrail.Change, error) {
	if !s.allows(to) {
		return audittrail.Change{}, fmt.Errorf("step %d: %s -> %s: %w", s.Order, s.Status, to, ErrInvalidTransition)
	}
	if err := s.guard(to, a, creatorID); err != nil {
		return audittrail.Change{}, err
	}

	from := s.Status
	s.Status = to
	s.UpdatedAt = now

	switch to {
	case StatusInProgress:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case StatusCompleted:
		s.CompletedAt = &now
	case StatusUnderAudit:
		if s.AuditorID == "" {
			s.AuditorID = creatorID
		}
	case StatusAuditPassed:
		s.AuditCompletedAt = &now
	case StatusAuditFailed:
		s.AuditCompletedAt = &now
		s.RevisionCount++
		s.AuditNotes = notes
	}

	return audittrail.Change{
		StepOrder: s.Order,
		FieldName: audittrail.FieldStepStatus,
		Previous:  string(from),
		New:       string(to),
		Notes:     notes,
	}, nil
}

func (s *Step) guard(to Status, a actor.Actor, creatorID string) error {
	action := fmt.Sprintf("move step %d to %s", s.Order, to)
	switch {
	case to == StatusCancelled:
		if a.CanEscalate() {
			return nil
		}
	case s.Status == StatusPending && to == StatusInProgress,
		s.Status == StatusInProgress && to == StatusCompleted:
		if a.Is(s.AssigneeID) {
			return nil
		}
	case s.Status == StatusAuditFailed && to == StatusInProgress:
		if a.Is(s.AssigneeID) || a.Is(s.auditor(creatorID)) || a.CanEscalate() {
			return nil
		}
	case s.Status == StatusCompleted:
		// Hand-off to audit, or straight to passed when no audit is required.
		if a.Is(s.AssigneeID) || a.Is(s.auditor(creatorID)) || a.CanEscalate() {
			return nil
		}
	case s.Status == StatusUnderAudit:
		if a.Is(s.auditor(creatorID)) || a.CanEscalate() {
			return nil
		}
	}
	return actor.Deny(a, action)
}

func (s *Step) auditor(creatorID string) string {
	if s.AuditorID != "" {
		return s.AuditorID
	}
	return creatorID
}
