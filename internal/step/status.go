package step

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a step is asked to take an edge its
// state machine does not have.
var ErrInvalidTransition = errors.New("invalid step transition")

type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusUnderAudit  Status = "under_audit"
	StatusAuditPassed Status = "audit_passed"
	StatusAuditFailed Status = "audit_failed"
	StatusCancelled   Status = "cancelled"
)

// completed -> audit_passed exists only for steps that skip audit; see
// Step.allows.
var transitions = map[Status][]Status{
	StatusPending:     {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusCompleted:   {StatusUnderAudit, StatusAuditPassed, StatusCancelled},
	StatusUnderAudit:  {StatusAuditPassed, StatusAuditFailed, StatusCancelled},
	StatusAuditFailed: {StatusInProgress, StatusCancelled},
	StatusAuditPassed: nil,
	StatusCancelled:   nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown step status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsClosed reports whether the step no longer blocks the workflow.
func (s Status) IsClosed() bool {
	return s == StatusAuditPassed || s == StatusCancelled
}
