package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func newDefault(t *testing.T, holidays ...Holiday) *Calendar {
	t.Helper()
	cal, err := New(DefaultBusinessHours(), holidays)
	require.NoError(t, err)
	return cal
}

func TestCalendar_IsWorkingInstant(t *testing.T) {
	cal := newDefault(t)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before opening", at(1, 8, 59), false},
		{"opening instant", at(1, 9, 0), true},
		{"midday", at(1, 13, 30), true},
		{"closing instant", at(1, 18, 0), true},
		{"after closing", at(1, 18, 1), false},
		{"saturday", at(6, 12, 0), false},
		{"sunday", at(7, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsWorkingInstant(tt.at))
		})
	}
}

func TestCalendar_NextWindowStart(t *testing.T) {
	cal := newDefault(t, Holiday{Date: at(10, 0, 0), Name: "founders day"})

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"inside window returns input", at(2, 10, 15), at(2, 10, 15)},
		{"before opening", at(2, 7, 0), at(2, 9, 0)},
		{"closing instant is inside", at(2, 18, 0), at(2, 18, 0)},
		{"after closing rolls to next day", at(2, 18, 30), at(3, 9, 0)},
		{"friday evening rolls to monday", at(5, 19, 0), at(8, 9, 0)},
		{"weekend rolls to monday", at(6, 11, 0), at(8, 9, 0)},
		{"holiday is skipped", at(9, 18, 30), at(11, 9, 0)},
		{"on the holiday itself", at(10, 10, 0), at(11, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cal.NextWindowStart(tt.from)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, cal.IsWorkingInstant(got))
		})
	}
}

func TestCalendar_RecurringHoliday(t *testing.T) {
	cal := newDefault(t, Holiday{Date: time.Date(1999, time.December, 25, 0, 0, 0, 0, time.UTC), IsRecurring: true})

	// 2024-12-25 is a Wednesday.
	assert.True(t, cal.IsHoliday(time.Date(2024, time.December, 25, 12, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsWorkingInstant(time.Date(2024, time.December, 25, 12, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsWorkingInstant(time.Date(2024, time.December, 26, 12, 0, 0, 0, time.UTC)))

	fixed := newDefault(t, Holiday{Date: time.Date(1999, time.December, 25, 0, 0, 0, 0, time.UTC)})
	assert.False(t, fixed.IsHoliday(time.Date(2024, time.December, 25, 12, 0, 0, 0, time.UTC)))
}

func TestCalendar_WindowEnd(t *testing.T) {
	cal := newDefault(t)

	end, ok := cal.WindowEnd(at(3, 10, 0))
	require.True(t, ok)
	assert.True(t, at(3, 18, 0).Equal(end))

	_, ok = cal.WindowEnd(at(3, 20, 0))
	assert.False(t, ok)
}

func TestCalendar_Location(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	cal, err := New(DefaultBusinessHours(), nil, WithLocation(jst))
	require.NoError(t, err)

	// 00:30 UTC on Monday is 09:30 JST.
	assert.True(t, cal.IsWorkingInstant(at(1, 0, 30)))
	// 09:30 UTC on Monday is 18:30 JST.
	assert.False(t, cal.IsWorkingInstant(at(1, 9, 30)))

	next, err := cal.NextWindowStart(at(1, 9, 30))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, time.January, 2, 9, 0, 0, 0, jst).Equal(next))
}

func TestCalendar_Exhausted(t *testing.T) {
	hours := DefaultBusinessHours()
	for i := range hours {
		hours[i].IsWorkingDay = false
	}
	cal, err := New(hours, nil, WithLookahead(30))
	require.NoError(t, err)

	_, err = cal.NextWindowStart(at(1, 10, 0))
	require.ErrorIs(t, err, ErrCalendarExhausted)
}

func TestValidate(t *testing.T) {
	t.Run("default week", func(t *testing.T) {
		require.NoError(t, Validate(DefaultBusinessHours()))
	})
	t.Run("missing weekday", func(t *testing.T) {
		err := Validate(DefaultBusinessHours()[1:])
		require.ErrorIs(t, err, ErrInvalidCalendar)
	})
	t.Run("duplicate weekday", func(t *testing.T) {
		hours := append(DefaultBusinessHours(), DefaultBusinessHours()[2])
		require.ErrorIs(t, Validate(hours), ErrInvalidCalendar)
	})
	t.Run("inverted window", func(t *testing.T) {
		hours := DefaultBusinessHours()
		hours[time.Monday].Start = NewTimeOfDay(18, 0)
		hours[time.Monday].End = NewTimeOfDay(9, 0)
		require.ErrorIs(t, Validate(hours), ErrInvalidCalendar)
	})
	t.Run("window ending at midnight", func(t *testing.T) {
		hours := DefaultBusinessHours()
		hours[time.Friday].End = NewTimeOfDay(24, 0)
		require.ErrorIs(t, Validate(hours), ErrInvalidCalendar)

		hours[time.Friday].End = TimeOfDay(24*time.Hour - time.Second)
		require.NoError(t, Validate(hours))
	})
	t.Run("inverted window on a day off is ignored", func(t *testing.T) {
		hours := DefaultBusinessHours()
		hours[time.Sunday].Start = NewTimeOfDay(18, 0)
		hours[time.Sunday].End = NewTimeOfDay(9, 0)
		require.NoError(t, Validate(hours))
	})
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewTimeOfDay(9, 30), tod)
	assert.Equal(t, "09:30", tod.String())

	_, err = ParseTimeOfDay("9h30")
	require.Error(t, err)

	var decoded TimeOfDay
	require.NoError(t, decoded.UnmarshalText([]byte("17:45")))
	assert.Equal(t, NewTimeOfDay(17, 45), decoded)
}
