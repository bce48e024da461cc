// Package audittrail records every field mutation of a task. Entries are
// append-only and removed only when their task is deleted.
package audittrail

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Field names recorded by the workflow.
const (
	FieldStatus        = "status"
	FieldStepStatus    = "step_status"
	FieldAssignee      = "assigned_to"
	FieldAuditor       = "auditor"
	FieldPlanDate      = "plan_date"
	FieldPlannedPTP    = "planned_ptp"
	FieldPlannedATP    = "planned_atp"
	FieldDocumentFile  = "document_file"
	FieldSheetURL      = "sheet_url"
	FieldRevisionCount = "revision_count"
)

type Entry struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	StepOrder     int       `json:"step_order,omitempty"`
	ActorID       string    `json:"actor_id"`
	FieldName     string    `json:"field_name"`
	PreviousValue string    `json:"previous_value"`
	NewValue      string    `json:"new_value"`
	Notes         string    `json:"notes"`
	Timestamp     time.Time `json:"timestamp"`
}

// Change is an unsaved entry produced by the state machines. StepOrder is 0
// for task-level changes.
type Change struct {
	StepOrder int
	FieldName string
	Previous  string
	New       string
	Notes     string
}

var (
	ErrMissingTaskID  = errors.New("audit entry requires a task id")
	ErrMissingActorID = errors.New("audit entry requires an actor id")
)

// Appender persists entries inside the current unit of work.
type Appender interface {
	AppendAudit(ctx context.Context, e *Entry) error
}

// Recorder turns changes into entries and appends them.
type Recorder struct {
	now func() time.Time
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

func (r *Recorder) Record(ctx context.Context, a Appender, taskID, actorID string, c Change) (*Entry, error) {
	if taskID == "" {
		return nil, ErrMissingTaskID
	}
	if actorID == "" {
		return nil, ErrMissingActorID
	}
	e := &Entry{
		ID:            ulid.Make().String(),
		TaskID:        taskID,
		StepOrder:     c.StepOrder,
		ActorID:       actorID,
		FieldName:     c.FieldName,
		PreviousValue: c.Previous,
		NewValue:      c.New,
		Notes:         c.Notes,
		Timestamp:     r.now().UTC(),
	}
	if err := a.AppendAudit(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordAll records changes in order and stops at the first failure; the
// surrounding unit of work is expected to roll back.
func (r *Recorder) RecordAll(ctx context.Context, a Appender, taskID, actorID string, changes []Change) error {
	for _, c := range changes {
		if _, err := r.Record(ctx, a, taskID, actorID, c); err != nil {
			return err
		}
	}
	return nil
}
