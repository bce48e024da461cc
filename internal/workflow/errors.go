package workflow

import (
	"errors"

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
	"github.com/kazz187/auditflow/pkg/cerr"
	"github.com/kazz187/auditflow/pkg/storage"
)

// ErrInvalidInput is returned for malformed requests.
var ErrInvalidInput = errors.New("invalid input")

// toError converts domain errors into coded errors. The sentinel stays
// reachable through errors.Is.
func toError(err error) error {
	if err == nil {
		return nil
	}
	var ce *cerr.Error
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, task.ErrInvalidTransition), errors.Is(err, step.ErrInvalidTransition):
		observability.RejectedTransitions.WithLabelValues("invalid_transition").Inc()
		return cerr.NewError(cerr.FailedPrecondition, err.Error(), err)
	case errors.Is(err, actor.ErrNotPermitted):
		observability.RejectedTransitions.WithLabelValues("not_permitted").Inc()
		return cerr.NewError(cerr.PermissionDenied, err.Error(), err)
	case errors.Is(err, ErrNoActiveTemplates):
		return cerr.NewError(cerr.FailedPrecondition, "no active step templates", err)
	case errors.Is(err, calendar.ErrCalendarExhausted):
		return cerr.NewError(cerr.FailedPrecondition, "business calendar has no working window within the lookahead", err)
	case errors.Is(err, ticket.ErrRetriesExhausted), errors.Is(err, ticket.ErrDuplicateTicketID):
		return cerr.NewError(cerr.AlreadyExists, "could not allocate a unique ticket id", err)
	case errors.Is(err, store.ErrNotFound):
		return cerr.NewError(cerr.NotFound, err.Error(), err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidPath):
		return cerr.WrapStorageReadError("document", err)
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, step.ErrInvalidTemplate),
		errors.Is(err, scheduler.ErrInvalidTAT),
		errors.Is(err, calendar.ErrInvalidCalendar),
		errors.Is(err, submission.ErrInvalidSubmission),
		errors.Is(err, audittrail.ErrMissingTaskID),
		errors.Is(err, audittrail.ErrMissingActorID):
		e := cerr.NewError(cerr.InvalidArgument, "invalid argument", err)
		_ = e.AddDetailMessage(err.Error())
		return e
	default:
		return cerr.NewError(cerr.Internal, "server error", err)
	}
}
