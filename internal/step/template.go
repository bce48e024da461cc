package step

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kazz187/auditflow/internal/scheduler"
)

var ErrInvalidTemplate = errors.New("invalid step template")

// Template is the blueprint a task's steps are materialized from. Editing a
// template never changes steps that already exist.
type Template struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Order         int       `json:"order"`
	TATHours      float64   `json:"tat_hours"`
	RequiresAudit bool      `json:"requires_audit"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if t.Order <= 0 {
		return fmt.Errorf("%w: order must be positive, got %d", ErrInvalidTemplate, t.Order)
	}
	if t.TATHours <= 0 {
		return fmt.Errorf("%w: tat_hours must be positive, got %v", ErrInvalidTemplate, t.TATHours)
	}
	if err := scheduler.ValidateTAT(t.TATHours); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return nil
}

// ValidateActiveSet checks that candidate can join the active set without
// duplicating an order. existing may contain candidate itself.
func ValidateActiveSet(existing []*Template, candidate *Template) error {
	if !candidate.IsActive {
		return nil
	}
	for _, t := range existing {
		if t.ID == candidate.ID || !t.IsActive {
			continue
		}
		if t.Order == candidate.Order {
			return fmt.Errorf("%w: order %d already used by %q", ErrInvalidTemplate, t.Order, t.Name)
		}
	}
	return nil
}

// ActiveSorted filters active templates and sorts them by order.
func ActiveSorted(templates []*Template) []*Template {
	active := make([]*Template, 0, len(templates))
	for _, t := range templates {
		if t.IsActive {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Order < active[j].Order })
	return active
}
