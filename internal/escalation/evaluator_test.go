package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caseline/internal/app"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/escalation"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

type sweepFixture struct {
	Engine    engine.Engine
	Evaluator escalation.Evaluator
	Case      domain.Case
	Ctx       context.Context
	Now       time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	_, cfg, err := app.ResolveTenantAndConfig(ctx, "tenant-1", repo.Repo{DB: conn})
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	ev := escalation.New(conn, cfg, nil)
	ev.Now = func() time.Time { return now }

	c, err := eng.CreateCase(ctx, engine.CaseCreateOptions{
		TenantID: "tenant-1",
		Title:    "Acme vs Revenue",
		ActorID:  "tester",
	})
	require.NoError(t, err)

	return &sweepFixture{Engine: eng, Evaluator: ev, Case: c, Ctx: ctx, Now: now}
}

// overdueTask inserts a task whose due date lies the given number of hours in
// the past.
func (f *sweepFixture) overdueTask(t *testing.T, priority string, hoursOverdue int, assignee *string) domain.Task {
	t.Helper()
	due := f.Now.Add(-time.Duration(hoursOverdue) * time.Hour).Format(time.RFC3339)
	nowStr := f.Now.Format(time.RFC3339)
	task := domain.Task{
		ID:         "task-" + priority + "-" + due,
		TenantID:   "tenant-1",
		CaseID:     f.Case.ID,
		Title:      "Respond to notice",
		Priority:   priority,
		DueDate:    &due,
		AssigneeID: assignee,
		Status:     "open",
		Origin:     "manual",
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	tx, err := f.Engine.DB.BeginTx(f.Ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.Engine.Repo.InsertTask(f.Ctx, tx, task))
	require.NoError(t, tx.Commit())
	return task
}

func TestCriticalOverdueTaskEscalates(t *testing.T) {
	f := newSweepFixture(t)
	task := f.overdueTask(t, "critical", 30, nil)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "pending", events[0].Status)
	require.Equal(t, "critical_24h", events[0].RuleKey)
}

func TestSweepDoesNotDuplicatePendingEscalations(t *testing.T) {
	f := newSweepFixture(t)
	task := f.overdueTask(t, "critical", 30, nil)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 0, n, "second sweep must not re-escalate")

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: task.ID, Status: "pending"})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRuleOrderAndThresholds(t *testing.T) {
	f := newSweepFixture(t)

	// 10 hours overdue matches no rule; 80 hours overdue with medium
	// priority falls through critical_24h to standard_72h.
	f.overdueTask(t, "critical", 10, nil)
	slow := f.overdueTask(t, "medium", 80, nil)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: slow.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "standard_72h", events[0].RuleKey)
}

func TestEscalationTargetWalksReportingChain(t *testing.T) {
	f := newSweepFixture(t)

	partner, err := f.Engine.EnsureEmployee(f.Ctx, domain.Employee{
		ID: "emp-partner", TenantID: "tenant-1", Name: "P. Mehta", Role: "partner", Active: true,
	})
	require.NoError(t, err)
	manager, err := f.Engine.EnsureEmployee(f.Ctx, domain.Employee{
		ID: "emp-manager", TenantID: "tenant-1", Name: "M. Rao", Role: "manager", ManagerID: &partner.ID, Active: true,
	})
	require.NoError(t, err)
	associate, err := f.Engine.EnsureEmployee(f.Ctx, domain.Employee{
		ID: "emp-associate", TenantID: "tenant-1", Name: "A. Singh", Role: "associate", ManagerID: &manager.ID, Active: true,
	})
	require.NoError(t, err)

	task := f.overdueTask(t, "critical", 30, &associate.ID)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].TargetID)
	require.Equal(t, partner.ID, *events[0].TargetID)
	require.Equal(t, "partner", events[0].TargetRole)
}

func TestEscalationWithoutTargetStillRecorded(t *testing.T) {
	f := newSweepFixture(t)
	task := f.overdueTask(t, "high", 30, nil)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].TargetID)
	require.Contains(t, events[0].Note, "target_missing")
}

func TestCompletedTasksNeverEscalate(t *testing.T) {
	f := newSweepFixture(t)
	task := f.overdueTask(t, "critical", 30, nil)

	_, err := f.Engine.UpdateTaskStatus(f.Ctx, "tenant-1", task.ID, "in_progress", "tester")
	require.NoError(t, err)
	_, err = f.Engine.UpdateTaskStatus(f.Ctx, "tenant-1", task.ID, "completed", "tester")
	require.NoError(t, err)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEscalationLifecycle(t *testing.T) {
	f := newSweepFixture(t)
	task := f.overdueTask(t, "critical", 30, nil)

	n, err := f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.Engine.Repo.ListEscalationEvents(f.Ctx, "tenant-1", repo.EscalationFilters{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	eventID := events[0].ID

	event, err := f.Evaluator.SetStatus(f.Ctx, "tenant-1", eventID, "contacted", "tester")
	require.NoError(t, err)
	require.Equal(t, "contacted", event.Status)
	require.Nil(t, event.ResolvedAt)

	event, err = f.Evaluator.SetStatus(f.Ctx, "tenant-1", eventID, "resolved", "tester")
	require.NoError(t, err)
	require.Equal(t, "resolved", event.Status)
	require.NotNil(t, event.ResolvedAt)

	// Resolved is terminal.
	_, err = f.Evaluator.SetStatus(f.Ctx, "tenant-1", eventID, "contacted", "tester")
	require.Error(t, err)

	// Once non-pending, the task may be escalated again by a later sweep.
	n, err = f.Evaluator.CheckAndEscalate(f.Ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
