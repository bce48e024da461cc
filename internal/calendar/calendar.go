// Package calendar answers business-hours questions against an immutable
// snapshot of per-weekday working windows and holidays.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrCalendarExhausted is returned when no working window exists within the
// lookahead ceiling. It indicates a misconfigured calendar.
var ErrCalendarExhausted = errors.New("no working window within lookahead")

// ErrInvalidCalendar wraps validation failures of business hours.
var ErrInvalidCalendar = errors.New("invalid calendar")

const DefaultLookaheadDays = 400

type dateKey struct {
	year  int
	month time.Month
	day   int
}

type monthDay struct {
	month time.Month
	day   int
}

// Calendar is safe for concurrent use; it is never mutated after New.
type Calendar struct {
	hours     [7]BusinessHours
	fixed     map[dateKey]struct{}
	recurring map[monthDay]struct{}
	loc       *time.Location
	lookahead int
}

type Option func(*Calendar)

func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithLookahead(days int) Option {
	return func(c *Calendar) {
		if days > 0 {
			c.lookahead = days
		}
	}
}

// New builds a snapshot. hours must contain exactly one record per weekday.
func New(hours []BusinessHours, holidays []Holiday, opts ...Option) (*Calendar, error) {
	if err := Validate(hours); err != nil {
		return nil, err
	}
	c := &Calendar{
		fixed:     make(map[dateKey]struct{}),
		recurring: make(map[monthDay]struct{}),
		loc:       time.UTC,
		lookahead: DefaultLookaheadDays,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, h := range hours {
		c.hours[h.Weekday] = h
	}
	for _, h := range holidays {
		y, m, d := h.Date.Date()
		if h.IsRecurring {
			c.recurring[monthDay{m, d}] = struct{}{}
		} else {
			c.fixed[dateKey{y, m, d}] = struct{}{}
		}
	}
	return c, nil
}

// Validate checks that every weekday appears exactly once and that working
// windows are not inverted. A window ends before midnight so its end instant
// belongs to the same calendar day.
func Validate(hours []BusinessHours) error {
	var seen [7]bool
	for _, h := range hours {
		if h.Weekday < time.Sunday || h.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidCalendar, h.Weekday)
		}
		if seen[h.Weekday] {
			return fmt.Errorf("%w: duplicate business hours for %s", ErrInvalidCalendar, h.Weekday)
		}
		seen[h.Weekday] = true
		if h.IsWorkingDay && h.End <= h.Start {
			return fmt.Errorf("%w: %s ends at %s before it starts at %s", ErrInvalidCalendar, h.Weekday, h.End, h.Start)
		}
		if h.Start < 0 || h.End >= TimeOfDay(24*time.Hour) {
			return fmt.Errorf("%w: %s window must lie within one day, ending by 23:59:59", ErrInvalidCalendar, h.Weekday)
		}
	}
	for wd, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: missing business hours for %s", ErrInvalidCalendar, time.Weekday(wd))
		}
	}
	return nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

func (c *Calendar) Lookahead() int { return c.lookahead }

func (c *Calendar) BusinessHours() []BusinessHours {
	out := make([]BusinessHours, len(c.hours))
	copy(out, c.hours[:])
	return out
}

// IsHoliday reports whether the calendar date of t (in the calendar's
// location) is a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	y, m, d := t.In(c.loc).Date()
	if _, ok := c.fixed[dateKey{y, m, d}]; ok {
		return true
	}
	_, ok := c.recurring[monthDay{m, d}]
	return ok
}

func (c *Calendar) isWorkingDay(t time.Time) bool {
	return c.hours[t.Weekday()].IsWorkingDay && !c.IsHoliday(t)
}

// window returns the working window of the calendar day containing lt.
// lt must already be in c.loc.
func (c *Calendar) window(lt time.Time) (start, end time.Time) {
	h := c.hours[lt.Weekday()]
	y, m, d := lt.Date()
	return h.Start.on(y, m, d, c.loc), h.End.on(y, m, d, c.loc)
}

// IsWorkingInstant reports whether t falls inside a working window. Windows
// are closed: both the start and the end instant count as working.
func (c *Calendar) IsWorkingInstant(t time.Time) bool {
	lt := t.In(c.loc)
	if !c.isWorkingDay(lt) {
		return false
	}
	start, end := c.window(lt)
	return !lt.Before(start) && !lt.After(end)
}

// WindowEnd returns the end of the working window containing t.
func (c *Calendar) WindowEnd(t time.Time) (time.Time, bool) {
	if !c.IsWorkingInstant(t) {
		return time.Time{}, false
	}
	_, end := c.window(t.In(c.loc))
	return end, true
}

// NextWindowStart returns t when it is inside a working window, otherwise the
// start of the earliest later window.
func (c *Calendar) NextWindowStart(t time.Time) (time.Time, error) {
	lt := t.In(c.loc)
	if c.isWorkingDay(lt) {
		start, end := c.window(lt)
		if lt.Before(start) {
			return start, nil
		}
		if !lt.After(end) {
			return lt, nil
		}
	}
	y, m, d := lt.Date()
	for i := 1; i <= c.lookahead; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, c.loc)
		if !c.isWorkingDay(day) {
			continue
		}
		start, _ := c.window(day)
		return start, nil
	}
	return time.Time{}, fmt.Errorf("after %s within %d days: %w", lt.Format(time.RFC3339), c.lookahead, ErrCalendarExhausted)
}
