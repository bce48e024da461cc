package task

import (
	"fmt"
	"time"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/submission"
)

type Task struct {
	ID             string                 `json:"id"`
	TicketID       string                 `json:"ticket_id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	ContentData    map[string]any         `json:"content_data,omitempty"`
	Status         Status                 `json:"status"`
	PlanDate       *time.Time             `json:"plan_date,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	AuditDecidedAt *time.Time             `json:"audit_decided_at,omitempty"`
	RevisionCount  int                    `json:"revision_count"`
	AuditNotes     string                 `json:"audit_notes,omitempty"`
	CreatedBy      string                 `json:"created_by"`
	AssigneeID     string                 `json:"assignee_id"`
	AuditorID      string                 `json:"auditor_id,omitempty"`
	Submission     *submission.Submission `json:"submission,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.ContentData != nil {
		c.ContentData = make(map[string]any, len(t.ContentData))
		for k, v := range t.ContentData {
			c.ContentData[k] = v
		}
	}
	c.PlanDate = cloneTime(t.PlanDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.AuditDecidedAt = cloneTime(t.AuditDecidedAt)
	if t.Submission != nil {
		s := *t.Submission
		c.Submission = &s
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

// Transition applies a legacy single-step transition. It validates the edge
// and the actor before touching any field, so a failed call leaves t as is.
func (t *Task) Transition(to Status, a actor.Actor, notes string, now time.Time) (audittrail.Change, error) {
	if !CanTransition(t.Status, to) {
		return audittrail.Change{}, fmt.Errorf("task %s: %s -> %s: %w", t.TicketID, t.Status, to, ErrInvalidTransition)
	}
	if err := t.guard(to, a); err != nil {
		return audittrail.Change{}, err
	}

	from := t.Status
	t.Status = to
	t.UpdatedAt = now

	switch to {
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusUnderAudit:
		if t.AuditorID == "" {
			t.AuditorID = t.CreatedBy
		}
	case StatusAuditPassed:
		t.AuditDecidedAt = &now
	case StatusAuditFailed:
		t.AuditDecidedAt = &now
		t.RevisionCount++
		t.AuditNotes = notes
	}

	return audittrail.Change{
		FieldName: audittrail.FieldStatus,
		Previous:  string(from),
		New:       string(to),
		Notes:     notes,
	}, nil
}

func (t *Task) guard(to Status, a actor.Actor) error {
	switch to {
	case StatusInProgress:
		if t.Status == StatusAuditFailed && (a.Is(t.AuditorID) || a.CanEscalate()) {
			return nil
		}
		if !a.Is(t.AssigneeID) {
			return actor.Deny(a, "start "+t.TicketID)
		}
	case StatusCompleted:
		if !a.Is(t.AssigneeID) {
			return actor.Deny(a, "complete "+t.TicketID)
		}
	case StatusUnderAudit:
		if !a.Is(t.AssigneeID) && !a.Is(t.AuditorID) && !a.CanEscalate() {
			return actor.Deny(a, "submit "+t.TicketID+" for audit")
		}
	case StatusAuditPassed, StatusAuditFailed:
		auditor := t.AuditorID
		if auditor == "" {
			auditor = t.CreatedBy
		}
		if !a.Is(auditor) && !a.CanEscalate() {
			return actor.Deny(a, "audit "+t.TicketID)
		}
	case StatusCancelled:
		if !a.CanEscalate() {
			return actor.Deny(a, "cancel "+t.TicketID)
		}
	}
	return nil
}

// SetPlanDate changes the plan date and describes the change.
func (t *Task) SetPlanDate(date time.Time, notes string, now time.Time) (audittrail.Change, bool) {
	prev := FormatDate(t.PlanDate)
	d := date
	t.PlanDate = &d
	next := FormatDate(t.PlanDate)
	if prev == next {
		return audittrail.Change{}, false
	}
	t.UpdatedAt = now
	return audittrail.Change{
		FieldName: audittrail.FieldPlanDate,
		Previous:  prev,
		New:       next,
		Notes:     notes,
	}, true
}

func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func FormatInstant(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
