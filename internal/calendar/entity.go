package calendar

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is an offset from local midnight, serialized as HH:MM.
type TimeOfDay time.Duration

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Clock() (hour, minute, second int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	minute = int(d % time.Hour / time.Minute)
	second = int(d % time.Minute / time.Second)
	return hour, minute, second
}

func (t TimeOfDay) String() string {
	h, m, _ := t.Clock()
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// on returns the instant of t on the given day in loc.
func (t TimeOfDay) on(year int, month time.Month, day int, loc *time.Location) time.Time {
	h, m, s := t.Clock()
	return time.Date(year, month, day, h, m, s, 0, loc)
}

// BusinessHours is the working window of one weekday.
type BusinessHours struct {
	Weekday      time.Weekday `yaml:"weekday" json:"weekday"`
	Start        TimeOfDay    `yaml:"start" json:"start"`
	End          TimeOfDay    `yaml:"end" json:"end"`
	IsWorkingDay bool         `yaml:"is_working_day" json:"is_working_day"`
}

// Holiday is a non-working date. Recurring holidays match the same month
// and day of every year.
type Holiday struct {
	Date        time.Time `yaml:"date" json:"date"`
	Name        string    `yaml:"name" json:"name"`
	IsRecurring bool      `yaml:"is_recurring" json:"is_recurring"`
}

const DateLayout = "2006-01-02"

// ParseDate parses a calendar date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// DateOf truncates t to its calendar date, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultBusinessHours returns Monday to Friday, 09:00 to 18:00.
func DefaultBusinessHours() []BusinessHours {
	hours := make([]BusinessHours, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		working := wd != time.Saturday && wd != time.Sunday
		hours = append(hours, BusinessHours{
			Weekday:      wd,
			Start:        NewTimeOfDay(9, 0),
			End:          NewTimeOfDay(18, 0),
			IsWorkingDay: working,
		})
	}
	return hours
}
