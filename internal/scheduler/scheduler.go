// Package scheduler derives planned completion instants from a turnaround
// time expressed in business hours.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/observability"
)

// MaxTATHours bounds turnaround times so that a budget always fits in a
// time.Duration.
const MaxTATHours = 100_000

var ErrInvalidTAT = errors.New("invalid turnaround time")

// ValidateTAT accepts finite hours in [0, MaxTATHours].
func ValidateTAT(hours float64) error {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return fmt.Errorf("%w: %v is not a number of hours", ErrInvalidTAT, hours)
	}
	if hours < 0 || hours > MaxTATHours {
		return fmt.Errorf("%w: %v hours is outside [0, %d]", ErrInvalidTAT, hours, MaxTATHours)
	}
	return nil
}

// Hours converts fractional hours to a duration rounded to the second.
func Hours(h float64) time.Duration {
	return time.Duration(math.Round(h*3600)) * time.Second
}

// PlanDeadline consumes tatHours of business time starting at the first
// working instant at or after start. The result always lies inside a working
// window of cal.
func PlanDeadline(cal *calendar.Calendar, start time.Time, tatHours float64) (time.Time, error) {
	if err := ValidateTAT(tatHours); err != nil {
		return time.Time{}, err
	}
	budget := Hours(tatHours)
	if budget < 0 {
		return time.Time{}, fmt.Errorf("%w: budget %s", ErrInvalidTAT, budget)
	}
	cursor, err := cal.NextWindowStart(start)
	if err != nil {
		return time.Time{}, err
	}
	for {
		end, ok := cal.WindowEnd(cursor)
		if !ok {
			return time.Time{}, fmt.Errorf("cursor %s outside working window", cursor.Format(time.RFC3339))
		}
		remaining := end.Sub(cursor)
		if budget <= remaining {
			return cursor.Add(budget), nil
		}
		budget -= remaining
		cursor, err = cal.NextWindowStart(end.Add(time.Nanosecond))
		if err != nil {
			return time.Time{}, err
		}
	}
}

// Scheduler plans against the cached calendar snapshot of a provider.
type Scheduler struct {
	provider *calendar.Provider
}

func New(provider *calendar.Provider) *Scheduler {
	return &Scheduler{provider: provider}
}

func (s *Scheduler) Calendar(ctx context.Context) (*calendar.Calendar, error) {
	return s.provider.Calendar(ctx)
}

func (s *Scheduler) PlanDeadline(ctx context.Context, start time.Time, tatHours float64) (time.Time, error) {
	cal, err := s.provider.Calendar(ctx)
	if err != nil {
		return time.Time{}, err
	}
	deadline, err := PlanDeadline(cal, start, tatHours)
	if err != nil {
		observability.DeadlineFailures.Inc()
		return time.Time{}, err
	}
	observability.DeadlinesPlanned.Inc()
	return deadline, nil
}
