// Package ticket allocates human-readable ticket ids of the form
// TKT-YYYYMMDD-NNN. Sequences are scoped per calendar day and come from an
// atomic counter, never from scanning existing ids.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kazz187/auditflow/internal/observability"
)

// ErrDuplicateTicketID is returned by stores when an insert collides with an
// existing ticket id.
var ErrDuplicateTicketID = errors.New("duplicate ticket id")

// ErrRetriesExhausted is returned when every allocation attempt collided.
var ErrRetriesExhausted = errors.New("ticket allocation retries exhausted")

const (
	prefix          = "TKT"
	dayLayout       = "20060102"
	DefaultAttempts = 5
)

// Sequencer atomically increments and returns the counter for a day key
// (YYYYMMDD). The first call for a day returns 1.
type Sequencer interface {
	NextTicketSequence(ctx context.Context, day string) (int, error)
}

func DayKey(day time.Time) string {
	return day.Format(dayLayout)
}

// Format renders a ticket id. Sequences above 999 widen instead of wrapping.
func Format(day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, DayKey(day), seq)
}

// Parse splits a ticket id into its day key and sequence.
func Parse(id string) (day string, seq int, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != prefix || len(parts[1]) != len(dayLayout) || len(parts[2]) < 3 {
		return "", 0, fmt.Errorf("malformed ticket id %q", id)
	}
	if _, err := time.Parse(dayLayout, parts[1]); err != nil {
		return "", 0, fmt.Errorf("malformed ticket id %q: %w", id, err)
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil || seq <= 0 {
		return "", 0, fmt.Errorf("malformed ticket id %q", id)
	}
	return parts[1], seq, nil
}

// Next allocates the next id for day.
func Next(ctx context.Context, s Sequencer, day time.Time) (string, error) {
	seq, err := s.NextTicketSequence(ctx, DayKey(day))
	if err != nil {
		return "", fmt.Errorf("failed to allocate ticket sequence: %w", err)
	}
	return Format(day, seq), nil
}

// Retry reruns fn while it fails with ErrDuplicateTicketID, at most attempts
// times. fn must be a complete unit of work so that a rerun starts clean.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateTicketID) {
			return err
		}
		lastErr = err
		observability.TicketRetries.Inc()
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}
