package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/auditflow/internal/actor"
	"github.com/kazz187/auditflow/internal/audittrail"
)

var (
	creator  = actor.Actor{ID: "creator", Role: actor.RoleManager}
	assignee = actor.Actor{ID: "alice", Role: actor.RoleAssignee}
	auditor  = actor.Actor{ID: "bob", Role: actor.RoleAuditor}
	stranger = actor.Actor{ID: "mallory", Role: actor.RoleAssignee}
	admin    = actor.Actor{ID: "root", Role: actor.RoleAdmin}
)

func newTask(status Status) *Task {
	return &Task{
		ID:         "01J0000000000000000000000",
		TicketID:   "TKT-20240101-001",
		Status:     status,
		CreatedBy:  creator.ID,
		AssigneeID: assignee.ID,
		AuditorID:  auditor.ID,
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusAssigned:    {StatusInProgress, StatusCancelled},
		StatusInProgress:  {StatusCompleted, StatusCancelled},
		StatusCompleted:   {StatusUnderAudit, StatusCancelled},
		StatusUnderAudit:  {StatusAuditPassed, StatusAuditFailed, StatusCancelled},
		StatusAuditFailed: {StatusInProgress, StatusCancelled},
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
		assert.ElementsMatch(t, allowed[from], AllowedTransitions(from))
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses() {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("Assigned")
	require.Error(t, err)
	_, err = ParseStatus("done")
	require.Error(t, err)
}

func TestTask_TransitionSideEffects(t *testing.T) {
	now := time.Date(2024, time.January, 2, 10, 0, 0, 0, time.UTC)

	t.Run("completed stamps completion", func(t *testing.T) {
		tk := newTask(StatusInProgress)
		c, err := tk.Transition(StatusCompleted, assignee, "", now)
		require.NoError(t, err)
		require.NotNil(t, tk.CompletedAt)
		assert.True(t, now.Equal(*tk.CompletedAt))
		assert.Equal(t, audittrail.Change{
			FieldName: audittrail.FieldStatus,
			Previous:  string(StatusInProgress),
			New:       string(StatusCompleted),
		}, c)
	})

	t.Run("under_audit assigns the creator when no auditor", func(t *testing.T) {
		tk := newTask(StatusCompleted)
		tk.AuditorID = ""
		_, err := tk.Transition(StatusUnderAudit, assignee, "", now)
		require.NoError(t, err)
		assert.Equal(t, creator.ID, tk.AuditorID)
	})

	t.Run("under_audit keeps an existing auditor", func(t *testing.T) {
		tk := newTask(StatusCompleted)
		_, err := tk.Transition(StatusUnderAudit, assignee, "", now)
		require.NoError(t, err)
		assert.Equal(t, auditor.ID, tk.AuditorID)
	})

	t.Run("audit_failed counts a revision", func(t *testing.T) {
		tk := newTask(StatusUnderAudit)
		tk.RevisionCount = 1
		c, err := tk.Transition(StatusAuditFailed, auditor, "missing totals", now)
		require.NoError(t, err)
		assert.Equal(t, 2, tk.RevisionCount)
		assert.Equal(t, "missing totals", tk.AuditNotes)
		assert.Equal(t, "missing totals", c.Notes)
		require.NotNil(t, tk.AuditDecidedAt)
	})

	t.Run("audit_passed stamps the decision", func(t *testing.T) {
		tk := newTask(StatusUnderAudit)
		_, err := tk.Transition(StatusAuditPassed, auditor, "", now)
		require.NoError(t, err)
		require.NotNil(t, tk.AuditDecidedAt)
		assert.Equal(t, 0, tk.RevisionCount)
	})
}

func TestTask_TransitionRejected(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		from  Status
		to    Status
		actor actor.Actor
		err   error
	}{
		{"skip to completed", StatusAssigned, StatusCompleted, assignee, ErrInvalidTransition},
		{"leave terminal passed", StatusAuditPassed, StatusInProgress, admin, ErrInvalidTransition},
		{"leave terminal cancelled", StatusCancelled, StatusAssigned, admin, ErrInvalidTransition},
		{"stranger starts", StatusAssigned, StatusInProgress, stranger, actor.ErrNotPermitted},
		{"auditor completes", StatusInProgress, StatusCompleted, auditor, actor.ErrNotPermitted},
		{"assignee passes own audit", StatusUnderAudit, StatusAuditPassed, assignee, actor.ErrNotPermitted},
		{"assignee cancels", StatusInProgress, StatusCancelled, assignee, actor.ErrNotPermitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTask(tt.from)
			before := *tk
			_, err := tk.Transition(tt.to, tt.actor, "", now)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, before, *tk, "a rejected transition changes nothing")
		})
	}
}

func TestTask_TransitionGuards(t *testing.T) {
	now := time.Now()

	tk := newTask(StatusUnderAudit)
	_, err := tk.Transition(StatusAuditFailed, admin, "", now)
	require.NoError(t, err, "escalation roles may decide audits")

	_, err = tk.Transition(StatusInProgress, auditor, "", now)
	require.NoError(t, err, "the auditor may return failed work")

	tk = newTask(StatusUnderAudit)
	tk.AuditorID = ""
	_, err = tk.Transition(StatusAuditPassed, creator, "", now)
	require.NoError(t, err, "the creator audits when no auditor is set")
}

func TestTask_SetPlanDate(t *testing.T) {
	now := time.Now()
	tk := newTask(StatusAssigned)
	date := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	c, changed := tk.SetPlanDate(date, "moved", now)
	require.True(t, changed)
	assert.Equal(t, "", c.Previous)
	assert.Equal(t, "2024-02-01", c.New)

	_, changed = tk.SetPlanDate(date, "moved", now)
	assert.False(t, changed)
}

func TestTask_Clone(t *testing.T) {
	now := time.Now()
	tk := newTask(StatusAssigned)
	tk.ContentData = map[string]any{"client": "acme"}
	tk.PlanDate = &now

	c := tk.Clone()
	c.ContentData["client"] = "other"
	*c.PlanDate = now.Add(time.Hour)

	assert.Equal(t, "acme", tk.ContentData["client"])
	assert.True(t, now.Equal(*tk.PlanDate))
}
