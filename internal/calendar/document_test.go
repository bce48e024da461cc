package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/auditflow/pkg/storage"
)

const sampleDocument = `
timezone: UTC
business_hours:
  - {weekday: mon, start: "09:00", end: "18:00"}
  - {weekday: tue, start: "09:00", end: "18:00"}
  - {weekday: wed, start: "09:00", end: "18:00"}
  - {weekday: thursday, start: "09:00", end: "18:00"}
  - {weekday: fri, start: "09:00", end: "15:00"}
holidays:
  - {date: "2024-01-10", name: founders day}
  - {date: "2000-12-25", name: christmas, recurring: true}
step_templates:
  - {name: Draft, order: 1, tat_hours: 24}
  - {name: Review, order: 2, tat_hours: 12, requires_audit: false}
  - {name: Legacy, order: 3, tat_hours: 8, active: false}
`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	loc, err := doc.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	hours, err := doc.Hours()
	require.NoError(t, err)
	require.Len(t, hours, 7)
	assert.False(t, hours[time.Sunday].IsWorkingDay)
	assert.False(t, hours[time.Saturday].IsWorkingDay)
	assert.True(t, hours[time.Thursday].IsWorkingDay)
	assert.Equal(t, NewTimeOfDay(15, 0), hours[time.Friday].End)

	holidays, err := doc.ParsedHolidays()
	require.NoError(t, err)
	require.Len(t, holidays, 2)
	assert.True(t, holidays[1].IsRecurring)

	require.Len(t, doc.StepTemplates, 3)
	require.NotNil(t, doc.StepTemplates[1].RequiresAudit)
	assert.False(t, *doc.StepTemplates[1].RequiresAudit)
	assert.Nil(t, doc.StepTemplates[0].Active)
}

func TestDocument_Hours(t *testing.T) {
	t.Run("empty document yields default week", func(t *testing.T) {
		hours, err := (&Document{}).Hours()
		require.NoError(t, err)
		assert.Equal(t, DefaultBusinessHours(), hours)
	})
	t.Run("duplicate weekday", func(t *testing.T) {
		doc := &Document{BusinessHours: []DocumentHours{
			{Weekday: "mon", Start: "09:00", End: "18:00"},
			{Weekday: "Monday", Start: "10:00", End: "18:00"},
		}}
		_, err := doc.Hours()
		require.ErrorIs(t, err, ErrInvalidCalendar)
	})
	t.Run("unknown weekday", func(t *testing.T) {
		doc := &Document{BusinessHours: []DocumentHours{{Weekday: "funday", Start: "09:00", End: "18:00"}}}
		_, err := doc.Hours()
		require.Error(t, err)
	})
}

func TestLoadDocument(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "config/calendar.yaml", []byte(sampleDocument)))

	doc, err := LoadDocument(ctx, s, "config/calendar.yaml")
	require.NoError(t, err)
	assert.Len(t, doc.BusinessHours, 5)

	_, err = LoadDocument(ctx, s, "config/missing.yaml")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
