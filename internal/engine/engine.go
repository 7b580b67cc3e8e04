package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/calendar"
	"caseline/internal/catalog"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/footprint"
	"caseline/internal/notify"
	"caseline/internal/repo"
	"caseline/internal/templates"
	"caseline/internal/timeline"
)

const (
	TransitionForward = "forward"
	TransitionRemand  = "remand"
)

// Engine orchestrates stage transitions: validation, task provisioning,
// timeline recording and notification requests. All step-5 side effects run
// in one transaction; the footprint reservation is the only lock held.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Timeline   timeline.Writer
	Footprints footprint.Store
	Catalog    *catalog.Catalog
	Templates  *templates.Resolver
	Calendar   calendar.BusinessDays
	Notifier   notify.Dispatcher
	Config     *config.Config
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Timeline:   timeline.Writer{DB: db},
		Footprints: footprint.Store{DB: db, TTL: cfg.ReservationTTL()},
		Catalog:    catalog.New(cfg),
		Templates:  templates.New(cfg),
		Calendar:   calendar.New(cfg),
		Notifier:   notify.LogDispatcher{},
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TransitionOptions identify one requested stage transition. FromStage and
// ToStage accept canonical keys or historical labels.
type TransitionOptions struct {
	TenantID  string
	CaseID    string
	FromStage string
	ToStage   string
	ActorID   string
}

// TransitionResult reports what a transition produced. Replayed is true when
// an identical signature had already committed and no new writes happened.
type TransitionResult struct {
	Signature       string   `json:"signature"`
	TransitionType  string   `json:"transition_type" enum:"forward,remand"`
	ToStage         string   `json:"to_stage"`
	CycleNo         int      `json:"cycle_no"`
	TasksCreated    int      `json:"tasks_created"`
	TaskIDs         []string `json:"task_ids,omitempty"`
	StageInstanceID string   `json:"stage_instance_id"`
	TimelineEntryID int64    `json:"timeline_entry_id"`
	Replayed        bool     `json:"replayed"`
}

// ProcessTransition advances a case to the target stage, provisioning the
// stage's task checklist exactly once per signature. Safe to call
// concurrently with identical arguments.
func (e Engine) ProcessTransition(ctx context.Context, opts TransitionOptions) (TransitionResult, error) {
	var res TransitionResult

	c, err := e.Repo.GetCase(ctx, opts.TenantID, opts.CaseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		return res, PersistenceError{Op: "load case", Err: err}
	}

	fromLabel := opts.FromStage
	if fromLabel == "" {
		fromLabel = c.CurrentStage
	}
	from, err := e.Catalog.Canonicalize(fromLabel)
	if err != nil {
		return res, err
	}
	to, err := e.Catalog.Canonicalize(opts.ToStage)
	if err != nil {
		return res, err
	}

	transitionType, err := e.classify(c.ID, from, to)
	if err != nil {
		return res, err
	}

	// The from-stage's latest cycle number anchors the signature: retries of
	// the same attempt collide, while a later remand cycle through the same
	// stage pair forms a fresh signature.
	fromCycle, err := e.latestCycle(ctx, opts.TenantID, opts.CaseID, from)
	if err != nil {
		return res, PersistenceError{Op: "read stage cycle", Err: err}
	}
	signature := footprint.Signature(opts.TenantID, opts.CaseID, from, to, transitionType, fromCycle)

	acquired, err := e.Footprints.TryAcquire(ctx, opts.TenantID, opts.CaseID, signature)
	if err != nil {
		return res, PersistenceError{Op: "acquire footprint", Err: err}
	}
	if !acquired.Acquired {
		if acquired.Existing.State == footprint.StateCommitted {
			// Tasks already exist for this exact transition; a duplicate
			// request is a successful no-op.
			return replayResult(signature, transitionType, to, acquired.Existing), nil
		}
		// Another attempt holds the reservation. It either commits, in which
		// case a retry replays its result, or fails and releases (or lets
		// expire) the signature, in which case a retry acquires it.
		return res, PersistenceError{
			Op:  "acquire footprint",
			Err: fmt.Errorf("transition %s is in flight (reserved until %s)", signature, acquired.Existing.ExpiresAt),
		}
	}

	templateSet, err := e.Templates.Resolve(from, to, transitionType, templates.CaseAttributes{
		DisputedAmount: c.DisputedAmount,
		SeniorCounsel:  c.SeniorCounsel,
	})
	if err != nil {
		// Nothing mutated yet; free the signature for the retry.
		_ = e.Footprints.Release(ctx, signature)
		return res, TemplateResolutionError{From: from, To: to, Type: transitionType, Err: err}
	}

	res, err = e.applyTransition(ctx, c, from, to, transitionType, signature, templateSet, opts.ActorID)
	if err != nil {
		_ = e.Footprints.Release(ctx, signature)
		return TransitionResult{}, err
	}

	e.notifyStakeholders(ctx, c, res)
	return res, nil
}

func (e Engine) classify(caseID, from, to string) (string, error) {
	fromOrder, err := e.Catalog.Order(from)
	if err != nil {
		return "", err
	}
	toOrder, err := e.Catalog.Order(to)
	if err != nil {
		return "", err
	}
	switch {
	case toOrder > fromOrder:
		return TransitionForward, nil
	case toOrder < fromOrder:
		return TransitionRemand, nil
	default:
		return "", InvalidTransitionError{CaseID: caseID, From: from, To: to, Reason: "target stage equals source stage"}
	}
}

func (e Engine) latestCycle(ctx context.Context, tenantID, caseID, stageKey string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.MaxCycleNo(ctx, tx, tenantID, caseID, stageKey)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

// applyTransition performs all side effects of an acquired transition in a
// single transaction, so a committed footprint is never visible without its
// tasks and no partial task set can be attributed to one.
func (e Engine) applyTransition(ctx context.Context, c domain.Case, from, to, transitionType, signature string, templateSet []config.TaskTemplate, actorID string) (TransitionResult, error) {
	var res TransitionResult
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, PersistenceError{Op: "begin transition", Err: err}
	}
	defer tx.Rollback()

	if active, err := e.Repo.ActiveStageInstanceTx(ctx, tx, c.TenantID, c.ID); err == nil {
		if err := e.Repo.CloseStageInstance(ctx, tx, c.TenantID, active.ID, nowStr); err != nil {
			return res, PersistenceError{Op: "close stage instance", Err: err}
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return res, PersistenceError{Op: "load active stage instance", Err: err}
	}

	targetCycle, err := e.Repo.MaxCycleNo(ctx, tx, c.TenantID, c.ID, to)
	if err != nil {
		return res, PersistenceError{Op: "read target cycle", Err: err}
	}
	instance := domain.StageInstance{
		ID:        uuid.New().String(),
		TenantID:  c.TenantID,
		CaseID:    c.ID,
		StageKey:  to,
		CycleNo:   targetCycle + 1,
		Status:    "active",
		StartedAt: nowStr,
		CreatedBy: actorID,
	}
	if err := e.Repo.InsertStageInstance(ctx, tx, instance); err != nil {
		return res, PersistenceError{Op: "insert stage instance", Err: err}
	}
	if err := e.seedWorkflowSteps(ctx, tx, instance.ID); err != nil {
		return res, PersistenceError{Op: "seed workflow steps", Err: err}
	}

	taskIDs := make([]string, 0, len(templateSet))
	for _, tpl := range templateSet {
		task, err := e.taskFromTemplate(ctx, c, tpl, now)
		if err != nil {
			return res, err
		}
		if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return res, PersistenceError{Op: "insert task", Err: err}
		}
		taskIDs = append(taskIDs, task.ID)
	}

	entryID, err := e.Timeline.Append(ctx, tx, c.TenantID, c.ID, "stage."+transitionType,
		fmt.Sprintf("Stage moved to %s", to),
		fmt.Sprintf("Transition %s -> %s (%s), cycle %d, %d tasks provisioned", from, to, transitionType, instance.CycleNo, len(taskIDs)),
		actorID, timeline.Metadata{
			"from_stage":      from,
			"to_stage":        to,
			"transition_type": transitionType,
			"cycle_no":        instance.CycleNo,
			"task_ids":        taskIDs,
			"signature":       signature,
		})
	if err != nil {
		return res, PersistenceError{Op: "append timeline", Err: err}
	}

	if err := e.Footprints.CommitTx(ctx, tx, signature, taskIDs, instance.ID, entryID, e.Templates.Version()); err != nil {
		return res, PersistenceError{Op: "commit footprint", Err: err}
	}
	if err := e.Repo.UpdateCaseStage(ctx, tx, c.TenantID, c.ID, to, nowStr); err != nil {
		return res, PersistenceError{Op: "update case stage", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return res, PersistenceError{Op: "commit transition", Err: err}
	}

	return TransitionResult{
		Signature:       signature,
		TransitionType:  transitionType,
		ToStage:         to,
		CycleNo:         instance.CycleNo,
		TasksCreated:    len(taskIDs),
		TaskIDs:         taskIDs,
		StageInstanceID: instance.ID,
		TimelineEntryID: entryID,
	}, nil
}

func (e Engine) seedWorkflowSteps(ctx context.Context, tx *sql.Tx, stageInstanceID string) error {
	for i, key := range domain.StepOrder {
		status := "pending"
		if key == domain.StepNotices {
			status = "in_progress"
		}
		step := domain.WorkflowStep{
			StageInstanceID: stageInstanceID,
			StepKey:         key,
			Position:        i,
			Status:          status,
		}
		if err := e.Repo.InsertWorkflowStep(ctx, tx, step); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) taskFromTemplate(ctx context.Context, c domain.Case, tpl config.TaskTemplate, now time.Time) (domain.Task, error) {
	nowStr := now.Format(time.RFC3339)
	priority := tpl.Priority
	if priority == "" {
		priority = "medium"
	}
	task := domain.Task{
		ID:          uuid.New().String(),
		TenantID:    c.TenantID,
		CaseID:      c.ID,
		Title:       tpl.Title,
		Description: tpl.Description,
		Priority:    priority,
		Status:      "open",
		Origin:      "auto",
		TemplateKey: optionalString(tpl.Key),
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if tpl.DueInDays > 0 {
		due := calendar.AddBusinessDays(e.Calendar, now, tpl.DueInDays, e.Config.Calendar.Region).Format(time.RFC3339)
		task.DueDate = &due
	}
	if tpl.AssigneeRole != "" {
		emp, err := e.Repo.FirstActiveByRole(ctx, c.TenantID, tpl.AssigneeRole)
		if err == nil {
			task.AssigneeID = &emp.ID
		} else if !errors.Is(err, repo.ErrNotFound) {
			return task, PersistenceError{Op: "resolve assignee role", Err: err}
		}
	}
	if task.AssigneeID == nil && c.OwnerID != nil {
		task.AssigneeID = c.OwnerID
	}
	return task, nil
}

func (e Engine) notifyStakeholders(ctx context.Context, c domain.Case, res TransitionResult) {
	if e.Notifier == nil {
		return
	}
	threshold := e.Config.Notifications.HighValueAmount
	if !(c.SeniorCounsel || (threshold > 0 && c.DisputedAmount >= threshold)) {
		return
	}
	recipients := []string{}
	if c.OwnerID != nil {
		recipients = append(recipients, *c.OwnerID)
	}
	e.Notifier.Dispatch(ctx, "case.stage_changed", recipients, "stage-transition", map[string]any{
		"case_id":         c.ID,
		"to_stage":        res.ToStage,
		"transition_type": res.TransitionType,
		"tasks_created":   res.TasksCreated,
	})
}

func replayResult(signature, transitionType, to string, fp domain.Footprint) TransitionResult {
	res := TransitionResult{
		Signature:      signature,
		TransitionType: transitionType,
		ToStage:        to,
		TasksCreated:   len(fp.TaskIDs),
		TaskIDs:        fp.TaskIDs,
		Replayed:       true,
	}
	if fp.StageInstanceID != nil {
		res.StageInstanceID = *fp.StageInstanceID
	}
	if fp.TimelineEntryID != nil {
		res.TimelineEntryID = *fp.TimelineEntryID
	}
	return res
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
