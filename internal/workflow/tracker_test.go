package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caseline/internal/app"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/workflow"
)

type fixture struct {
	Tracker workflow.Tracker
	Engine  engine.Engine
	Case    domain.Case
	Stage   domain.StageInstance
	Ctx     context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	_, cfg, err := app.ResolveTenantAndConfig(ctx, "tenant-1", repo.Repo{DB: conn})
	require.NoError(t, err)

	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	tr := workflow.New(eng)

	c, err := eng.CreateCase(ctx, engine.CaseCreateOptions{
		TenantID: "tenant-1",
		Title:    "Acme vs Revenue",
		ActorID:  "tester",
	})
	require.NoError(t, err)
	si, err := eng.Repo.ActiveStageInstance(ctx, "tenant-1", c.ID)
	require.NoError(t, err)

	return fixture{Tracker: tr, Engine: eng, Case: c, Stage: si, Ctx: ctx}
}

func (f fixture) recordRepliedNotice(t *testing.T) {
	t.Helper()
	n, err := f.Engine.RecordNotice(f.Ctx, engine.NoticeCreateOptions{
		TenantID:        "tenant-1",
		StageInstanceID: f.Stage.ID,
		NoticeNo:        "SCN-001",
		ActorID:         "tester",
	})
	require.NoError(t, err)
	_, err = f.Engine.RecordReply(f.Ctx, "tenant-1", n.ID, "submitted", "tester")
	require.NoError(t, err)
}

func assertSingleInProgress(t *testing.T, steps []domain.WorkflowStep) {
	t.Helper()
	count := 0
	for _, s := range steps {
		if s.Status == "in_progress" {
			count++
		}
	}
	require.LessOrEqual(t, count, 1, "at most one step may be in_progress")
}

func TestStepProgression(t *testing.T) {
	f := newFixture(t)
	f.recordRepliedNotice(t)

	res, err := f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepNotices, "tester")
	require.NoError(t, err)
	require.Equal(t, "completed", res.Step.Status)
	require.Equal(t, domain.StepReply, res.NextStep)

	res, err = f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepReply, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StepHearings, res.NextStep)

	// Completing hearings activates closure but must not trigger a
	// forward transition on its own.
	res, err = f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepHearings, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StepClosure, res.NextStep)
	require.Nil(t, res.Transition)

	steps, err := f.Engine.Repo.ListWorkflowSteps(f.Ctx, f.Stage.ID)
	require.NoError(t, err)
	assertSingleInProgress(t, steps)

	got, err := f.Engine.Repo.GetCase(f.Ctx, "tenant-1", f.Case.ID)
	require.NoError(t, err)
	require.Equal(t, "assessment", got.CurrentStage, "no forward transition before closure")
}

func TestClosureTriggersForwardTransition(t *testing.T) {
	f := newFixture(t)
	f.recordRepliedNotice(t)

	for _, key := range []string{domain.StepNotices, domain.StepReply, domain.StepHearings} {
		_, err := f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, key, "tester")
		require.NoError(t, err)
	}

	res, err := f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepClosure, "tester")
	require.NoError(t, err)
	require.NotNil(t, res.Transition)
	require.Equal(t, "adjudication", res.Transition.ToStage)
	require.Equal(t, engine.TransitionForward, res.Transition.TransitionType)
	require.False(t, res.Transition.Replayed)

	got, err := f.Engine.Repo.GetCase(f.Ctx, "tenant-1", f.Case.ID)
	require.NoError(t, err)
	require.Equal(t, "adjudication", got.CurrentStage)

	old, err := f.Engine.Repo.GetStageInstance(f.Ctx, "tenant-1", f.Stage.ID)
	require.NoError(t, err)
	require.Equal(t, "closed", old.Status)
}

func TestClosureBlockedWithoutNotices(t *testing.T) {
	f := newFixture(t)

	// Skip ahead to closure without recording any notice.
	_, err := f.Tracker.SkipStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepNotices, "no notice expected", "tester")
	require.NoError(t, err)
	_, err = f.Tracker.SkipStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepReply, "nothing to reply", "tester")
	require.NoError(t, err)
	_, err = f.Tracker.SkipStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepHearings, "no hearing", "tester")
	require.NoError(t, err)

	ok, reasons, err := f.Tracker.CanClose(f.Ctx, "tenant-1", f.Stage.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, reasons)

	_, err = f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepClosure, "tester")
	var cbe workflow.ClosureBlockedError
	require.True(t, errors.As(err, &cbe))
}

func TestClosureBlockedWhileNoticeAwaitsReply(t *testing.T) {
	f := newFixture(t)
	_, err := f.Engine.RecordNotice(f.Ctx, engine.NoticeCreateOptions{
		TenantID:        "tenant-1",
		StageInstanceID: f.Stage.ID,
		NoticeNo:        "SCN-002",
		ActorID:         "tester",
	})
	require.NoError(t, err)

	ok, reasons, err := f.Tracker.CanClose(f.Ctx, "tenant-1", f.Stage.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reasons[len(reasons)-1], "notices step")
}

func TestClosureFastPathAfterNoticesTerminal(t *testing.T) {
	f := newFixture(t)
	f.recordRepliedNotice(t)

	// Only the notices step is terminal; reply and hearings remain
	// pending. Closure is allowed on this simplified path.
	_, err := f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepNotices, "tester")
	require.NoError(t, err)

	ok, reasons, err := f.Tracker.CanClose(f.Ctx, "tenant-1", f.Stage.ID)
	require.NoError(t, err)
	require.True(t, ok, "blocking reasons: %v", reasons)
}

func TestSkipAdvancesPointer(t *testing.T) {
	f := newFixture(t)
	f.recordRepliedNotice(t)

	res, err := f.Tracker.SkipStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepNotices, "served in person", "tester")
	require.NoError(t, err)
	require.Equal(t, "skipped", res.Step.Status)
	require.NotNil(t, res.Step.SkipReason)
	require.Equal(t, domain.StepReply, res.NextStep)

	_, err = f.Tracker.SkipStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepReply, "", "tester")
	require.Error(t, err, "skip without a reason must fail")
}

func TestOutOfOrderStepRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.Tracker.CompleteStep(f.Ctx, "tenant-1", f.Stage.ID, domain.StepHearings, "tester")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not the current step")
}

func TestGetWorkflowState(t *testing.T) {
	f := newFixture(t)
	f.recordRepliedNotice(t)

	state, err := f.Tracker.GetWorkflowState(f.Ctx, "tenant-1", f.Stage.ID)
	require.NoError(t, err)
	require.Len(t, state.Steps, 4)
	require.Equal(t, domain.StepNotices, state.CurrentStep)
	require.Equal(t, 1, state.Notices.Total)
	require.Equal(t, 0, state.Notices.AwaitingReply)
	require.False(t, state.CanClose, "notices step still in progress")
}
