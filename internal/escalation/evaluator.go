// Package escalation sweeps overdue tasks and raises escalation events per
// the tenant's configured rules. The sweep runs independently of the
// transition engine and only shares the task read model.
package escalation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/notify"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

type Evaluator struct {
	DB       *sql.DB
	Repo     repo.Repo
	Timeline timeline.Writer
	Notifier notify.Dispatcher
	Rules    []config.EscalationRule
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, dispatcher notify.Dispatcher) Evaluator {
	return Evaluator{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Timeline: timeline.Writer{DB: db},
		Notifier: dispatcher,
		Rules:    cfg.Escalation.Rules,
		Now:      time.Now,
	}
}

func (ev Evaluator) now() time.Time {
	if ev.Now != nil {
		return ev.Now()
	}
	return time.Now()
}

// CheckAndEscalate sweeps the tenant's overdue tasks and creates at most one
// pending escalation event per task. Returns the number of events created.
func (ev Evaluator) CheckAndEscalate(ctx context.Context, tenantID string) (int, error) {
	now := ev.now().UTC()
	overdue, err := ev.Repo.ListOverdueTasks(ctx, tenantID, now.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, task := range overdue {
		fired, err := ev.evaluateTask(ctx, tenantID, task, now)
		if err != nil {
			return created, fmt.Errorf("task %s: %w", task.ID, err)
		}
		if fired {
			created++
		}
	}
	return created, nil
}

func (ev Evaluator) evaluateTask(ctx context.Context, tenantID string, task domain.Task, now time.Time) (bool, error) {
	rule, ok := ev.matchRule(ctx, tenantID, task, now)
	if !ok {
		return false, nil
	}

	target, targetNote := ev.resolveTarget(ctx, tenantID, task, rule.EscalateRole)

	nowStr := now.Format(time.RFC3339)
	event := domain.EscalationEvent{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		TaskID:     task.ID,
		RuleKey:    rule.Key,
		Status:     "pending",
		TargetRole: rule.EscalateRole,
		Note:       targetNote,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	if target != nil {
		event.TargetID = &target.ID
	}

	tx, err := ev.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Re-check inside the transaction so two overlapping sweeps cannot both
	// fire for the same task.
	pending, err := ev.Repo.HasPendingEscalation(ctx, tx, tenantID, task.ID)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}
	if err := ev.Repo.InsertEscalationEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if _, err := ev.Timeline.Append(ctx, tx, tenantID, task.CaseID, "escalation.raised",
		"Task escalated", task.Title, "system", timeline.Metadata{
			"task_id":  task.ID,
			"rule_key": rule.Key,
			"event_id": event.ID,
		}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	ev.dispatch(ctx, task, rule, target)
	return true, nil
}

var statusTransitions = map[string][]string{
	"pending":   {"contacted", "resolved", "escalated"},
	"contacted": {"resolved", "escalated"},
	"resolved":  {},
	"escalated": {},
}

// SetStatus advances an escalation event through its lifecycle. Resolved and
// escalated are terminal.
func (ev Evaluator) SetStatus(ctx context.Context, tenantID, eventID, status, actorID string) (domain.EscalationEvent, error) {
	event, err := ev.Repo.GetEscalationEvent(ctx, tenantID, eventID)
	if err != nil {
		return domain.EscalationEvent{}, err
	}
	allowed, ok := statusTransitions[event.Status]
	if !ok || !contains(allowed, status) {
		return domain.EscalationEvent{}, fmt.Errorf("invalid escalation status change %s -> %s", event.Status, status)
	}
	task, err := ev.Repo.GetTask(ctx, tenantID, event.TaskID)
	if err != nil {
		return domain.EscalationEvent{}, err
	}

	nowStr := ev.now().UTC().Format(time.RFC3339)
	var resolvedAt *string
	if status == "resolved" {
		resolvedAt = &nowStr
	}

	tx, err := ev.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscalationEvent{}, err
	}
	defer tx.Rollback()
	if err := ev.Repo.UpdateEscalationStatus(ctx, tx, tenantID, eventID, status, nowStr, resolvedAt); err != nil {
		return domain.EscalationEvent{}, err
	}
	if _, err := ev.Timeline.Append(ctx, tx, tenantID, task.CaseID, "escalation.status",
		"Escalation "+status, task.Title, actorID, timeline.Metadata{
			"event_id": eventID,
			"from":     event.Status,
			"to":       status,
		}); err != nil {
		return domain.EscalationEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscalationEvent{}, err
	}
	return ev.Repo.GetEscalationEvent(ctx, tenantID, eventID)
}

// matchRule returns the first configured rule whose conditions the task
// satisfies. Rules are evaluated in configuration order.
func (ev Evaluator) matchRule(ctx context.Context, tenantID string, task domain.Task, now time.Time) (config.EscalationRule, bool) {
	for _, rule := range ev.Rules {
		if !ev.ruleMatches(ctx, tenantID, task, rule, now) {
			continue
		}
		return rule, true
	}
	return config.EscalationRule{}, false
}

func (ev Evaluator) ruleMatches(ctx context.Context, tenantID string, task domain.Task, rule config.EscalationRule, now time.Time) bool {
	if task.DueDate == nil {
		return false
	}
	due, err := time.Parse(time.RFC3339, *task.DueDate)
	if err != nil {
		return false
	}
	if now.Sub(due) < time.Duration(rule.HoursOverdue)*time.Hour {
		return false
	}
	if len(rule.Priorities) > 0 && !contains(rule.Priorities, task.Priority) {
		return false
	}
	if rule.Stage != "" {
		c, err := ev.Repo.GetCase(ctx, tenantID, task.CaseID)
		if err != nil || c.CurrentStage != rule.Stage {
			return false
		}
	}
	return true
}

// resolveTarget walks the assignee's reporting chain looking for the rule's
// escalation role, falling back to any active holder of that role. A missing
// target does not block the event; the note records it for follow-up.
func (ev Evaluator) resolveTarget(ctx context.Context, tenantID string, task domain.Task, role string) (*domain.Employee, string) {
	if role == "" {
		return nil, ""
	}
	if task.AssigneeID != nil {
		seen := map[string]bool{}
		current := *task.AssigneeID
		for current != "" && !seen[current] {
			seen[current] = true
			emp, err := ev.Repo.GetEmployee(ctx, tenantID, current)
			if err != nil {
				break
			}
			if emp.Role == role && emp.Active && emp.ID != *task.AssigneeID {
				return &emp, ""
			}
			if emp.ManagerID == nil {
				break
			}
			current = *emp.ManagerID
		}
	}
	emp, err := ev.Repo.FirstActiveByRole(ctx, tenantID, role)
	if err == nil {
		return &emp, ""
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, "target_missing: no active employee holds role " + role
	}
	return nil, "target_missing: " + err.Error()
}

func (ev Evaluator) dispatch(ctx context.Context, task domain.Task, rule config.EscalationRule, target *domain.Employee) {
	if ev.Notifier == nil {
		return
	}
	recipients := append([]string(nil), rule.NotifyRoles...)
	if target != nil {
		recipients = append(recipients, target.ID)
	}
	ev.Notifier.Dispatch(ctx, "task.escalated", recipients, "escalation", map[string]any{
		"task_id":  task.ID,
		"case_id":  task.CaseID,
		"rule_key": rule.Key,
		"priority": task.Priority,
		"due_date": task.DueDate,
	})
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
