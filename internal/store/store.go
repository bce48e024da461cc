// Package store defines the transactional boundary of the workflow. Every
// mutating operation runs inside RunInTx: all of its writes, including audit
// entries, commit together or not at all.
package store

import (
	"context"
	"errors"

	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/internal/ticket"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

type TaskFilter struct {
	Status     task.Status
	AssigneeID string
	AuditorID  string
	Limit      int
	Offset     int
}

// Tx is one unit of work. Implementations serialize units that lock the same
// task and let units on different tasks proceed independently.
type Tx interface {
	audittrail.Appender
	ticket.Sequencer

	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	// GetTaskForUpdate loads a task and holds its lock until the unit ends.
	GetTaskForUpdate(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, f TaskFilter) ([]*task.Task, int, error)

	CreateSteps(ctx context.Context, steps []*step.Step) error
	ListSteps(ctx context.Context, taskID string) ([]*step.Step, error)
	UpdateStep(ctx context.Context, s *step.Step) error

	ListAudit(ctx context.Context, taskID string) ([]*audittrail.Entry, error)

	ListTemplates(ctx context.Context) ([]*step.Template, error)
	GetTemplate(ctx context.Context, id string) (*step.Template, error)
	SaveTemplate(ctx context.Context, t *step.Template) error

	SetBusinessHours(ctx context.Context, hours []calendar.BusinessHours) error
	AddHoliday(ctx context.Context, h calendar.Holiday) error
	RemoveHoliday(ctx context.Context, date string) error
}

type Store interface {
	calendar.Source
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
