package scheduler

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/auditflow/internal/calendar"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func defaultCalendar(t *testing.T, holidays ...calendar.Holiday) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.DefaultBusinessHours(), holidays)
	require.NoError(t, err)
	return cal
}

func TestPlanDeadline(t *testing.T) {
	wednesdayOff := calendar.Holiday{Date: at(10, 0, 0), Name: "founders day"}

	tests := []struct {
		name     string
		holidays []calendar.Holiday
		start    time.Time
		tat      float64
		want     time.Time
	}{
		{"friday evening spills into monday", nil, at(5, 17, 0), 2, at(8, 10, 0)},
		{"holiday is skipped", []calendar.Holiday{wednesdayOff}, at(9, 16, 0), 5, at(11, 12, 0)},
		{"within one window", nil, at(2, 9, 0), 3, at(2, 12, 0)},
		{"exactly to closing", nil, at(2, 9, 0), 9, at(2, 18, 0)},
		{"start before opening", nil, at(2, 6, 0), 1, at(2, 10, 0)},
		{"start on weekend", nil, at(6, 12, 0), 4, at(8, 13, 0)},
		{"zero tat inside window", nil, at(2, 11, 0), 0, at(2, 11, 0)},
		{"zero tat outside window", nil, at(2, 20, 0), 0, at(3, 9, 0)},
		{"fractional hours", nil, at(2, 9, 0), 1.5, at(2, 10, 30)},
		{"full week", nil, at(1, 9, 0), 45, at(5, 18, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := defaultCalendar(t, tt.holidays...)
			got, err := PlanDeadline(cal, tt.start, tt.tat)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, cal.IsWorkingInstant(got))
		})
	}
}

func TestPlanDeadline_Exhausted(t *testing.T) {
	hours := calendar.DefaultBusinessHours()
	for i := range hours {
		hours[i].IsWorkingDay = false
	}
	cal, err := calendar.New(hours, nil, calendar.WithLookahead(14))
	require.NoError(t, err)

	_, err = PlanDeadline(cal, at(1, 9, 0), 1)
	require.ErrorIs(t, err, calendar.ErrCalendarExhausted)
}

func TestPlanDeadline_InvalidTAT(t *testing.T) {
	cal := defaultCalendar(t)
	for name, tat := range map[string]float64{
		"negative":         -1,
		"nan":              math.NaN(),
		"infinite":         math.Inf(1),
		"overflows budget": 1e7,
		"above ceiling":    MaxTATHours + 0.5,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := PlanDeadline(cal, at(1, 9, 0), tat)
			require.ErrorIs(t, err, ErrInvalidTAT)
		})
	}

	got, err := PlanDeadline(cal, at(1, 9, 0), MaxTATHours)
	require.NoError(t, err)
	assert.True(t, got.After(at(1, 9, 0)))
	assert.True(t, cal.IsWorkingInstant(got))
}

func TestPlanDeadline_LateWindowStaysOnWorkingDay(t *testing.T) {
	hours := calendar.DefaultBusinessHours()
	for i := range hours {
		hours[i].Start = 0
		hours[i].End = calendar.TimeOfDay(24*time.Hour - time.Minute)
	}
	cal, err := calendar.New(hours, nil)
	require.NoError(t, err)

	// Friday 23:00 plus one hour: 59 minutes on Friday, the last minute on Monday.
	got, err := PlanDeadline(cal, at(5, 23, 0), 1)
	require.NoError(t, err)
	assert.True(t, at(8, 0, 1).Equal(got), "got %s", got)
	assert.True(t, cal.IsWorkingInstant(got))
}

func TestHours(t *testing.T) {
	assert.Equal(t, 90*time.Minute, Hours(1.5))
	assert.Equal(t, time.Second, Hours(1.0/3600+1e-9))
	assert.Equal(t, time.Duration(0), Hours(0))
}

// workedBetween sums the business time between from and to window by window.
func workedBetween(cal *calendar.Calendar, from, to time.Time) time.Duration {
	var total time.Duration
	hours := cal.BusinessHours()
	for day := from.Truncate(24 * time.Hour); !day.After(to); day = day.AddDate(0, 0, 1) {
		h := hours[day.Weekday()]
		if !h.IsWorkingDay || cal.IsHoliday(day) {
			continue
		}
		start := day.Add(time.Duration(h.Start))
		end := day.Add(time.Duration(h.End))
		if start.Before(from) {
			start = from
		}
		if end.After(to) {
			end = to
		}
		if end.After(start) {
			total += end.Sub(start)
		}
	}
	return total
}

func TestPlanDeadline_Properties(t *testing.T) {
	cal := defaultCalendar(t,
		calendar.Holiday{Date: at(10, 0, 0)},
		calendar.Holiday{Date: at(1, 0, 0), IsRecurring: true},
	)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 500; i++ {
		start := at(1, 0, 0).Add(time.Duration(rng.IntN(60*24*30)) * time.Minute)
		tat := float64(rng.IntN(120)) / 4

		got, err := PlanDeadline(cal, start, tat)
		require.NoError(t, err)
		require.True(t, cal.IsWorkingInstant(got), "start %s tat %v: %s is outside a window", start, tat, got)
		require.False(t, got.Before(start))
		require.Equal(t, Hours(tat), workedBetween(cal, start, got), "start %s tat %v", start, tat)

		extra := float64(rng.IntN(20))
		later, err := PlanDeadline(cal, start, tat+extra)
		require.NoError(t, err)
		require.False(t, later.Before(got), "deadlines must not decrease with tat")
	}
}

func TestScheduler_UsesProviderSnapshot(t *testing.T) {
	src := &staticSource{hours: calendar.DefaultBusinessHours()}
	provider := calendar.NewProvider(src)
	s := New(provider)

	got, err := s.PlanDeadline(context.Background(), at(9, 16, 0), 5)
	require.NoError(t, err)
	assert.True(t, at(10, 12, 0).Equal(got))

	src.holidays = []calendar.Holiday{{Date: at(10, 0, 0)}}
	got, err = s.PlanDeadline(context.Background(), at(9, 16, 0), 5)
	require.NoError(t, err)
	assert.True(t, at(10, 12, 0).Equal(got), "edits are invisible until the provider is invalidated")

	provider.Invalidate()
	got, err = s.PlanDeadline(context.Background(), at(9, 16, 0), 5)
	require.NoError(t, err)
	assert.True(t, at(11, 12, 0).Equal(got))
}

type staticSource struct {
	hours    []calendar.BusinessHours
	holidays []calendar.Holiday
}

func (s *staticSource) LoadCalendar(context.Context) ([]calendar.BusinessHours, []calendar.Holiday, error) {
	return s.hours, s.holidays, nil
}
