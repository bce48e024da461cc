package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/submission"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/internal/ticket"
)

// openTestStore connects to AUDITFLOW_TEST_DATABASE_URL and empties every
// table. Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AUDITFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUDITFLOW_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.db.ExecContext(ctx, `TRUNCATE tasks, workflow_steps, audit_trail, step_templates, business_hours, holidays, ticket_sequences CASCADE`)
	require.NoError(t, err)
	return s
}

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func sampleTask(id, ticketID string) *task.Task {
	plan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:          id,
		TicketID:    ticketID,
		Title:       "Quarterly report",
		ContentData: map[string]any{"client": "acme"},
		Status:      task.StatusAssigned,
		PlanDate:    &plan,
		CreatedBy:   "carol",
		AssigneeID:  "alice",
		AuditorID:   "bob",
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ptp := epoch.Add(24 * time.Hour)

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTask(ctx, sampleTask("t1", "TKT-20240101-001")); err != nil {
			return err
		}
		if err := tx.CreateSteps(ctx, []*step.Step{
			{ID: "s2", TaskID: "t1", Name: "Review", Order: 2, TATHours: 4, Status: step.StatusPending, CreatedAt: epoch, UpdatedAt: epoch},
			{ID: "s1", TaskID: "t1", Name: "Draft", Order: 1, TATHours: 8, RequiresAudit: true, Status: step.StatusPending, PlannedPTP: &ptp, CreatedAt: epoch, UpdatedAt: epoch},
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &audittrail.Entry{ID: "e1", TaskID: "t1", ActorID: "carol", FieldName: audittrail.FieldStatus, NewValue: "assigned", Timestamp: epoch})
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tk, err := tx.GetTaskForUpdate(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "TKT-20240101-001", tk.TicketID)
		assert.Equal(t, "2024-01-10", task.FormatDate(tk.PlanDate))
		assert.Equal(t, "acme", tk.ContentData["client"])

		tk.Status = task.StatusInProgress
		tk.Submission = &submission.Submission{Type: submission.TypeSheetLink, SheetURL: "https://docs.google.com/spreadsheets/d/x", SubmittedAt: epoch}
		require.NoError(t, tx.UpdateTask(ctx, tk))

		steps, err := tx.ListSteps(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, 1, steps[0].Order)
		require.NotNil(t, steps[0].PlannedPTP)
		assert.True(t, ptp.Equal(*steps[0].PlannedPTP))

		steps[0].Status = step.StatusInProgress
		return tx.UpdateStep(ctx, steps[0])
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tk, err := tx.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusInProgress, tk.Status)
		require.NotNil(t, tk.Submission)
		assert.Equal(t, submission.TypeSheetLink, tk.Submission.Type)

		entries, err := tx.ListAudit(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "assigned", entries[0].NewValue)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_Rollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTask(ctx, sampleTask("t1", "TKT-20240101-001")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &audittrail.Entry{ID: "e1", TaskID: "t1", ActorID: "carol", FieldName: audittrail.FieldStatus, Timestamp: epoch}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetTask(ctx, "t1")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, total, err := tx.ListTasks(ctx, store.TaskFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DuplicateTicketID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	create := func(id string) error {
		return s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.CreateTask(ctx, sampleTask(id, "TKT-20240101-001"))
		})
	}
	require.NoError(t, create("t1"))
	require.ErrorIs(t, create("t2"), ticket.ErrDuplicateTicketID)
}

func TestStore_NextTicketSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A task inserted without the counter pushes the counter past it.
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateTask(ctx, sampleTask("t1", "TKT-20240101-004"))
	}))

	p := pool.NewWithResults[int]().WithErrors().WithMaxGoroutines(8)
	for i := 0; i < 20; i++ {
		p.Go(func() (int, error) {
			var seq int
			err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				var err error
				seq, err = tx.NextTicketSequence(ctx, "20240101")
				return err
			})
			return seq, err
		})
	}
	seqs, err := p.Wait()
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, seq := range seqs {
		assert.Greater(t, seq, 4)
		require.False(t, seen[seq], "sequence %d handed out twice", seq)
		seen[seq] = true
	}
}

func TestStore_DeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTask(ctx, sampleTask("t1", "TKT-20240101-001")); err != nil {
			return err
		}
		if err := tx.CreateSteps(ctx, []*step.Step{{ID: "s1", TaskID: "t1", Name: "Draft", Order: 1, TATHours: 1, Status: step.StatusPending, CreatedAt: epoch, UpdatedAt: epoch}}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &audittrail.Entry{ID: "e1", TaskID: "t1", ActorID: "carol", FieldName: audittrail.FieldStatus, Timestamp: epoch})
	}))
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteTask(ctx, "t1")
	}))
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		steps, err := tx.ListSteps(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, steps)
		entries, err := tx.ListAudit(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestStore_CalendarAndTemplates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	hours := calendar.DefaultBusinessHours()
	hours[time.Saturday] = calendar.BusinessHours{Weekday: time.Saturday, Start: calendar.NewTimeOfDay(10, 0), End: calendar.NewTimeOfDay(13, 30), IsWorkingDay: true}

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetBusinessHours(ctx, hours); err != nil {
			return err
		}
		if err := tx.AddHoliday(ctx, calendar.Holiday{Date: time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), Name: "christmas", IsRecurring: true}); err != nil {
			return err
		}
		return tx.SaveTemplate(ctx, &step.Template{ID: "tpl", Name: "Draft", Order: 1, TATHours: 8, RequiresAudit: true, IsActive: true, CreatedAt: epoch, UpdatedAt: epoch})
	}))

	gotHours, holidays, err := s.LoadCalendar(ctx)
	require.NoError(t, err)
	assert.Equal(t, hours, gotHours)
	require.Len(t, holidays, 1)
	assert.True(t, holidays[0].IsRecurring)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.ErrorIs(t, tx.RemoveHoliday(ctx, "2024-01-01"), store.ErrNotFound)
		tpl, err := tx.GetTemplate(ctx, "tpl")
		require.NoError(t, err)
		assert.Equal(t, 8.0, tpl.TATHours)
		_, err = tx.GetTemplate(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}
