// Package workflow tracks the four ordered steps inside one stage instance
// (notices, reply, hearings, closure) and triggers the forward stage
// transition when closure completes.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

// Tracker advances workflow steps. It shares the engine's database handle and
// delegates closure-driven forward transitions back to the engine.
type Tracker struct {
	DB       *sql.DB
	Repo     repo.Repo
	Timeline timeline.Writer
	Engine   engine.Engine
	Now      func() time.Time
}

func New(eng engine.Engine) Tracker {
	return Tracker{
		DB:       eng.DB,
		Repo:     eng.Repo,
		Timeline: eng.Timeline,
		Engine:   eng,
		Now:      eng.Now,
	}
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// StepResult reports one step advance and, when closure completed, the
// forward transition it triggered.
type StepResult struct {
	Step       domain.WorkflowStep      `json:"step"`
	NextStep   string                   `json:"next_step,omitempty"`
	Transition *engine.TransitionResult `json:"transition,omitempty"`
}

// WorkflowState aggregates everything a caller needs to render a stage's
// progress in one read.
type WorkflowState struct {
	StageInstance   domain.StageInstance  `json:"stage_instance"`
	Steps           []domain.WorkflowStep `json:"steps"`
	CurrentStep     string                `json:"current_step"`
	Notices         repo.NoticeCounts     `json:"notices"`
	Hearings        int                   `json:"hearings"`
	CanClose        bool                  `json:"can_close"`
	BlockingReasons []string              `json:"blocking_reasons,omitempty"`
}

// CompleteStep marks the stage instance's current step completed and moves
// the pointer to the next step. Completing closure performs the forward
// transition to the next catalog stage.
func (t Tracker) CompleteStep(ctx context.Context, tenantID, stageInstanceID, stepKey, actorID string) (StepResult, error) {
	return t.advance(ctx, tenantID, stageInstanceID, stepKey, actorID, "completed", "")
}

// SkipStep advances past a step without doing it. The reason is persisted on
// the step record.
func (t Tracker) SkipStep(ctx context.Context, tenantID, stageInstanceID, stepKey, reason, actorID string) (StepResult, error) {
	if reason == "" {
		return StepResult{}, errors.New("skip reason is required")
	}
	return t.advance(ctx, tenantID, stageInstanceID, stepKey, actorID, "skipped", reason)
}

func (t Tracker) advance(ctx context.Context, tenantID, stageInstanceID, stepKey, actorID, status, skipReason string) (StepResult, error) {
	var res StepResult

	si, err := t.Repo.GetStageInstance(ctx, tenantID, stageInstanceID)
	if err != nil {
		return res, err
	}
	if si.Status != "active" {
		return res, fmt.Errorf("stage instance %s is %s; steps can only advance on an active stage", si.ID, si.Status)
	}

	if stepKey == domain.StepClosure && status == "completed" {
		ok, reasons, err := t.CanClose(ctx, tenantID, stageInstanceID)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, ClosureBlockedError{StageInstanceID: stageInstanceID, Reasons: reasons}
		}
	}

	nowStr := t.now().UTC().Format(time.RFC3339)

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	steps, err := t.Repo.ListWorkflowStepsTx(ctx, tx, stageInstanceID)
	if err != nil {
		return res, err
	}
	if current := CurrentStep(steps); current != stepKey {
		return res, fmt.Errorf("step %s is not the current step (current: %s)", stepKey, current)
	}

	step, err := t.Repo.GetWorkflowStep(ctx, tx, stageInstanceID, stepKey)
	if err != nil {
		return res, err
	}
	step.Status = status
	step.CompletedAt = &nowStr
	step.CompletedBy = &actorID
	if skipReason != "" {
		step.SkipReason = &skipReason
	}
	if err := t.Repo.UpdateWorkflowStep(ctx, tx, step); err != nil {
		return res, err
	}

	next := nextPending(steps, stepKey)
	if next != "" {
		ns, err := t.Repo.GetWorkflowStep(ctx, tx, stageInstanceID, next)
		if err != nil {
			return res, err
		}
		ns.Status = "in_progress"
		if err := t.Repo.UpdateWorkflowStep(ctx, tx, ns); err != nil {
			return res, err
		}
	}

	if _, err := t.Timeline.Append(ctx, tx, tenantID, si.CaseID, "step."+status,
		fmt.Sprintf("Step %s %s", stepKey, status), skipReason, actorID, timeline.Metadata{
			"stage_instance_id": si.ID,
			"step_key":          stepKey,
			"next_step":         next,
		}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}

	res.Step = step
	res.NextStep = next

	if stepKey == domain.StepClosure && status == "completed" {
		nextStage, err := t.Engine.Catalog.NextForward(si.StageKey)
		if err != nil {
			return res, err
		}
		if nextStage != "" {
			tr, err := t.Engine.ProcessTransition(ctx, engine.TransitionOptions{
				TenantID:  tenantID,
				CaseID:    si.CaseID,
				FromStage: si.StageKey,
				ToStage:   nextStage,
				ActorID:   actorID,
			})
			if err != nil {
				return res, fmt.Errorf("closure recorded but forward transition failed: %w", err)
			}
			res.Transition = &tr
		}
	}
	return res, nil
}

// CanClose reports whether the stage instance may be closed and, if not, why.
// Closure needs at least one notice on record with none awaiting reply.
// Pending reply/hearings steps do not block once the notices step is
// terminal; only the notices step itself gates the fast path.
func (t Tracker) CanClose(ctx context.Context, tenantID, stageInstanceID string) (bool, []string, error) {
	var reasons []string

	counts, err := t.Repo.CountNotices(ctx, tenantID, stageInstanceID)
	if err != nil {
		return false, nil, err
	}
	if counts.Total == 0 {
		reasons = append(reasons, "no notices recorded for this stage")
	}
	if counts.AwaitingReply > 0 {
		reasons = append(reasons, fmt.Sprintf("%d notice(s) awaiting reply", counts.AwaitingReply))
	}

	steps, err := t.Repo.ListWorkflowSteps(ctx, stageInstanceID)
	if err != nil {
		return false, nil, err
	}
	for _, s := range steps {
		if s.StepKey == domain.StepNotices && !terminal(s.Status) {
			reasons = append(reasons, "notices step is not completed or skipped")
		}
	}

	return len(reasons) == 0, reasons, nil
}

// GetWorkflowState returns the aggregated view of a stage instance's steps,
// notice and hearing counts, and closure readiness.
func (t Tracker) GetWorkflowState(ctx context.Context, tenantID, stageInstanceID string) (WorkflowState, error) {
	si, err := t.Repo.GetStageInstance(ctx, tenantID, stageInstanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	steps, err := t.Repo.ListWorkflowSteps(ctx, stageInstanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	counts, err := t.Repo.CountNotices(ctx, tenantID, stageInstanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	hearings, err := t.Repo.CountHearings(ctx, tenantID, stageInstanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	canClose, reasons, err := t.CanClose(ctx, tenantID, stageInstanceID)
	if err != nil {
		return WorkflowState{}, err
	}
	return WorkflowState{
		StageInstance:   si,
		Steps:           steps,
		CurrentStep:     CurrentStep(steps),
		Notices:         counts,
		Hearings:        hearings,
		CanClose:        canClose,
		BlockingReasons: reasons,
	}, nil
}

// CurrentStep picks the first in_progress step, else the first pending step,
// else closure.
func CurrentStep(steps []domain.WorkflowStep) string {
	for _, s := range steps {
		if s.Status == "in_progress" {
			return s.StepKey
		}
	}
	for _, s := range steps {
		if s.Status == "pending" {
			return s.StepKey
		}
	}
	return domain.StepClosure
}

func nextPending(steps []domain.WorkflowStep, afterKey string) string {
	passed := false
	for _, s := range steps {
		if s.StepKey == afterKey {
			passed = true
			continue
		}
		if passed && s.Status == "pending" {
			return s.StepKey
		}
	}
	return ""
}

func terminal(status string) bool {
	return status == "completed" || status == "skipped"
}

// ClosureBlockedError reports why a closure attempt was rejected.
type ClosureBlockedError struct {
	StageInstanceID string
	Reasons         []string
}

func (e ClosureBlockedError) Error() string {
	return fmt.Sprintf("stage instance %s cannot be closed: %v", e.StageInstanceID, e.Reasons)
}
