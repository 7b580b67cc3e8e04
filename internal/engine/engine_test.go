package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"caseline/internal/app"
	"caseline/internal/catalog"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/footprint"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	_, cfg, err := app.ResolveTenantAndConfig(ctx, "tenant-1", repo.Repo{DB: conn})
	if err != nil {
		t.Fatalf("resolve tenant: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) newCase(t *testing.T, opts engine.CaseCreateOptions) domain.Case {
	t.Helper()
	if opts.TenantID == "" {
		opts.TenantID = "tenant-1"
	}
	if opts.Title == "" {
		opts.Title = "Acme vs Revenue"
	}
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	c, err := env.Engine.CreateCase(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

func TestForwardTransitionProvisionsTasks(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	res, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1",
		CaseID:   c.ID,
		ToStage:  "Adjudication",
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Replayed {
		t.Fatal("first transition must not be a replay")
	}
	if res.TransitionType != engine.TransitionForward {
		t.Fatalf("transition type = %s, want forward", res.TransitionType)
	}
	if res.TasksCreated != 3 {
		t.Fatalf("tasks created = %d, want 3", res.TasksCreated)
	}
	if res.CycleNo != 1 {
		t.Fatalf("cycle = %d, want 1", res.CycleNo)
	}

	got, err := env.Engine.Repo.GetCase(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentStage != "adjudication" {
		t.Fatalf("case stage = %s, want adjudication", got.CurrentStage)
	}

	// The new stage instance owns fresh workflow steps, notices first.
	steps, err := env.Engine.Repo.ListWorkflowSteps(env.Ctx, res.StageInstanceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(steps))
	}
	if steps[0].StepKey != domain.StepNotices || steps[0].Status != "in_progress" {
		t.Fatalf("first step = %s/%s, want notices/in_progress", steps[0].StepKey, steps[0].Status)
	}

	entries, err := env.Engine.Repo.ListTimeline(env.Ctx, "tenant-1", c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sawForward bool
	for _, e := range entries {
		if e.Type == "stage.forward" {
			sawForward = true
		}
	}
	if !sawForward {
		t.Fatal("expected a stage.forward timeline entry")
	}
}

func TestTransitionReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	opts := engine.TransitionOptions{
		TenantID:  "tenant-1",
		CaseID:    c.ID,
		FromStage: "assessment",
		ToStage:   "adjudication",
		ActorID:   "tester",
	}
	first, err := env.Engine.ProcessTransition(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ProcessTransition(env.Ctx, opts)
	if err != nil {
		t.Fatalf("replay must succeed: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second identical transition must be a replay")
	}
	if second.Signature != first.Signature {
		t.Fatalf("signatures differ: %s vs %s", first.Signature, second.Signature)
	}
	if second.TasksCreated != first.TasksCreated {
		t.Fatalf("replay task count = %d, want %d", second.TasksCreated, first.TasksCreated)
	}

	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "tenant-1", repo.TaskFilters{CaseID: c.ID, Origin: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != first.TasksCreated {
		t.Fatalf("stored tasks = %d, want %d", len(tasks), first.TasksCreated)
	}
}

func TestConcurrentTransitionsProvisionOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	opts := engine.TransitionOptions{
		TenantID:  "tenant-1",
		CaseID:    c.ID,
		FromStage: "assessment",
		ToStage:   "adjudication",
		ActorID:   "tester",
	}

	// The loser observes an in-flight reservation and retries until the
	// winner's commit turns the duplicate into a replay.
	var wg sync.WaitGroup
	results := make([]engine.TransitionResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.ProcessTransitionWithRetry(env.Ctx, opts)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	replays := 0
	for _, r := range results {
		if r.Replayed {
			replays++
		}
	}
	if replays != 1 {
		t.Fatalf("replays = %d, want exactly 1", replays)
	}

	fps, err := env.Engine.Footprints.Lookup(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 1 {
		t.Fatalf("footprints = %d, want 1", len(fps))
	}
	if fps[0].State != "committed" {
		t.Fatalf("footprint state = %s, want committed", fps[0].State)
	}

	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "tenant-1", repo.TaskFilters{CaseID: c.ID, Origin: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}
	got, _ := env.Engine.Repo.GetCase(env.Ctx, "tenant-1", c.ID)
	if got.CurrentStage != "adjudication" {
		t.Fatalf("case stage = %s, want adjudication", got.CurrentStage)
	}
}

func TestReservedSignatureIsRetryableNotReplay(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	// Another attempt holds the reservation but has not committed yet.
	sig := footprint.Signature("tenant-1", c.ID, "assessment", "adjudication", engine.TransitionForward, 1)
	held, err := env.Engine.Footprints.TryAcquire(env.Ctx, "tenant-1", c.ID, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !held.Acquired {
		t.Fatal("pre-reservation must acquire a fresh signature")
	}

	opts := engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "adjudication", ActorID: "tester",
	}
	res, err := env.Engine.ProcessTransition(env.Ctx, opts)
	if err == nil {
		t.Fatalf("expected error while the signature is reserved, got %+v", res)
	}
	if !engine.IsRetryable(err) {
		t.Fatalf("in-flight reservation must be retryable, got %v", err)
	}
	if res.Replayed {
		t.Fatal("a reserved signature must not report a replay")
	}

	got, err := env.Engine.Repo.GetCase(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentStage != "assessment" {
		t.Fatalf("case stage = %s, want assessment untouched", got.CurrentStage)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "tenant-1", repo.TaskFilters{CaseID: c.ID, Origin: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %d, want 0 while the reservation is pending", len(tasks))
	}

	// The holder gives up; the next attempt wins the same signature.
	if err := env.Engine.Footprints.Release(env.Ctx, sig); err != nil {
		t.Fatal(err)
	}
	after, err := env.Engine.ProcessTransition(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if after.Replayed {
		t.Fatal("a released signature must provision fresh, not replay")
	}
	if after.Signature != sig {
		t.Fatalf("signature = %s, want %s", after.Signature, sig)
	}
	if after.TasksCreated != 3 {
		t.Fatalf("tasks created = %d, want 3", after.TasksCreated)
	}
}

func TestTemplateGapReleasesSignature(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{Stage: "high_court"})

	// No remand rule targets tribunal in the default template set.
	opts := engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "tribunal", ActorID: "tester",
	}
	_, err := env.Engine.ProcessTransition(env.Ctx, opts)
	var tre engine.TemplateResolutionError
	if !errors.As(err, &tre) {
		t.Fatalf("err = %v, want TemplateResolutionError", err)
	}
	if !engine.IsRetryable(err) {
		t.Fatal("a template gap must be retryable")
	}

	fps, err := env.Engine.Footprints.Lookup(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 0 {
		t.Fatalf("footprints = %d, want 0 after release", len(fps))
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "tenant-1", repo.TaskFilters{CaseID: c.ID, Origin: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(tasks))
	}
	instances, err := env.Engine.Repo.ListStageInstances(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("stage instances = %d, want only the opening one", len(instances))
	}
	got, err := env.Engine.Repo.GetCase(env.Ctx, "tenant-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentStage != "high_court" {
		t.Fatalf("case stage = %s, want high_court untouched", got.CurrentStage)
	}

	// Closing the configuration gap lets the same transition succeed.
	cfg := *env.Engine.Config
	cfg.Templates.Rules = append(append([]config.TemplateRule(nil), cfg.Templates.Rules...), config.TemplateRule{
		ToStage:        "tribunal",
		TransitionType: "remand",
		Templates: []config.TaskTemplate{{
			Key:      "remand.fresh_submission",
			Title:    "Prepare fresh submission on remand",
			Priority: "high",
		}},
	})
	fixed := engine.New(env.Engine.DB, &cfg)
	fixed.Now = env.Engine.Now
	res, err := fixed.ProcessTransition(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Replayed {
		t.Fatal("retry after a released failure must provision fresh")
	}
	if res.TransitionType != engine.TransitionRemand {
		t.Fatalf("transition type = %s, want remand", res.TransitionType)
	}
	if res.TasksCreated != 1 {
		t.Fatalf("tasks created = %d, want 1", res.TasksCreated)
	}
}

func TestRemandIncrementsCycleAndRefreshesSignature(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	forward, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "adjudication", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	remand, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "assessment", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if remand.TransitionType != engine.TransitionRemand {
		t.Fatalf("transition type = %s, want remand", remand.TransitionType)
	}
	if remand.CycleNo != 2 {
		t.Fatalf("remand cycle = %d, want 2", remand.CycleNo)
	}

	// Re-entering adjudication after a remand must provision fresh tasks
	// under a new signature, not replay the first visit.
	again, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "adjudication", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.Replayed {
		t.Fatal("post-remand revisit must not replay the earlier transition")
	}
	if again.Signature == forward.Signature {
		t.Fatal("post-remand revisit reused the old signature")
	}
	if again.CycleNo != 2 {
		t.Fatalf("revisit cycle = %d, want 2", again.CycleNo)
	}
}

func TestUnknownStageRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	_, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "Planet Court", ActorID: "tester",
	})
	var use catalog.UnknownStageError
	if !errors.As(err, &use) {
		t.Fatalf("err = %v, want UnknownStageError", err)
	}
	if !engine.IsTerminal(err) {
		t.Fatal("unknown stage must be terminal")
	}
}

func TestSameStageTransitionInvalid(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	_, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "assessment", ActorID: "tester",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if engine.IsRetryable(err) {
		t.Fatal("invalid transition must not be retryable")
	}
}

func TestStageLabelAliasesCanonicalized(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{Stage: "Scrutiny Assessment"})
	if c.CurrentStage != "assessment" {
		t.Fatalf("stage = %s, want assessment", c.CurrentStage)
	}

	res, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "Order-in-Original", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ToStage != "adjudication" {
		t.Fatalf("to stage = %s, want adjudication", res.ToStage)
	}
}

func TestCaseAttributesModifyTemplates(t *testing.T) {
	env := newTestEnv(t)
	plain := env.newCase(t, engine.CaseCreateOptions{})
	big := env.newCase(t, engine.CaseCreateOptions{Title: "High value", DisputedAmount: 25_000_000, SeniorCounsel: true})

	base, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: plain.ID, ToStage: "adjudication", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	rich, err := env.Engine.ProcessTransition(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: big.ID, ToStage: "adjudication", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// high_value_review and senior_counsel_brief each add one task
	if rich.TasksCreated != base.TasksCreated+2 {
		t.Fatalf("rich tasks = %d, want %d", rich.TasksCreated, base.TasksCreated+2)
	}
}

func TestManualTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		TenantID: "tenant-1", CaseID: c.ID, Title: "File vakalatnama", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Origin != "manual" || task.Status != "open" {
		t.Fatalf("task origin/status = %s/%s", task.Origin, task.Status)
	}

	task, err = env.Engine.UpdateTaskStatus(env.Ctx, "tenant-1", task.ID, "in_progress", "tester")
	if err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, "tenant-1", task.ID, "completed", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if task.CompletedAt == nil {
		t.Fatal("completed task must record completion time")
	}
	// terminal statuses have no exits
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, "tenant-1", task.ID, "open", "tester"); err == nil {
		t.Fatal("expected transition error from completed")
	}
}

func TestEnsureEmployeeKeepsStoredRecordAndActiveFlag(t *testing.T) {
	env := newTestEnv(t)

	seeded, err := env.Engine.EnsureEmployee(env.Ctx, domain.Employee{
		ID: "emp-1", TenantID: "tenant-1", Name: "R. Iyer", Role: "partner", Active: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if seeded.Active {
		t.Fatal("inactive seed must stay inactive")
	}
	if _, err := env.Engine.Repo.FirstActiveByRole(env.Ctx, "tenant-1", "partner"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("inactive employee must not be assignable, got %v", err)
	}

	// Re-registering an existing id returns the stored record, not the
	// caller's version of it.
	again, err := env.Engine.EnsureEmployee(env.Ctx, domain.Employee{
		ID: "emp-1", TenantID: "tenant-1", Name: "Someone Else", Role: "associate", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "R. Iyer" || again.Role != "partner" || again.Active {
		t.Fatalf("existing id must return the stored record, got %+v", again)
	}
}

func TestRetryWrapperStopsOnTerminalError(t *testing.T) {
	env := newTestEnv(t)
	c := env.newCase(t, engine.CaseCreateOptions{})

	start := time.Now()
	_, err := env.Engine.ProcessTransitionWithRetry(env.Ctx, engine.TransitionOptions{
		TenantID: "tenant-1", CaseID: c.ID, ToStage: "assessment", ActorID: "tester",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("terminal error must not be retried with backoff")
	}
}
