package task

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when the requested edge is not in the
// transition table. Nothing is changed when it is returned.
var ErrInvalidTransition = errors.New("invalid transition")

// Status is the aggregate state of a task. Values are persisted as their
// tags, case-sensitive.
type Status string

const (
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusUnderAudit  Status = "under_audit"
	StatusAuditPassed Status = "audit_passed"
	StatusAuditFailed Status = "audit_failed"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusAssigned:    {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusCompleted:   {StatusUnderAudit, StatusCancelled},
	StatusUnderAudit:  {StatusAuditPassed, StatusAuditFailed, StatusCancelled},
	StatusAuditFailed: {StatusInProgress, StatusCancelled},
	StatusAuditPassed: nil,
	StatusCancelled:   nil,
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusAssigned,
		StatusInProgress,
		StatusCompleted,
		StatusUnderAudit,
		StatusAuditPassed,
		StatusAuditFailed,
		StatusCancelled,
	}
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

func (s Status) IsTerminal() bool {
	return s == StatusAuditPassed || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func AllowedTransitions(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}
