package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline/internal/calendar"
	"caseline/internal/domain"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	ID             string
	TenantID       string
	Title          string
	Stage          string // label or canonical key; defaults to the first catalog stage
	OwnerID        string
	DisputedAmount float64
	SeniorCounsel  bool
	ActorID        string
}

// CreateCase opens a case and activates its first stage instance so the
// workflow tracker has steps to advance from day one.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	if opts.Title == "" {
		return domain.Case{}, errors.New("title is required")
	}
	if opts.TenantID == "" {
		return domain.Case{}, errors.New("tenant is required")
	}
	stage := e.Catalog.First()
	if opts.Stage != "" {
		var err error
		stage, err = e.Catalog.Canonicalize(opts.Stage)
		if err != nil {
			return domain.Case{}, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Case{
		ID:             id,
		TenantID:       opts.TenantID,
		Title:          opts.Title,
		CurrentStage:   stage,
		OwnerID:        optionalString(opts.OwnerID),
		DisputedAmount: opts.DisputedAmount,
		SeniorCounsel:  opts.SeniorCounsel,
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	instance := domain.StageInstance{
		ID:        uuid.New().String(),
		TenantID:  c.TenantID,
		CaseID:    c.ID,
		StageKey:  stage,
		CycleNo:   1,
		Status:    "active",
		StartedAt: now,
		CreatedBy: opts.ActorID,
	}
	if err := e.Repo.InsertStageInstance(ctx, tx, instance); err != nil {
		return domain.Case{}, fmt.Errorf("insert stage instance: %w", err)
	}
	if err := e.seedWorkflowSteps(ctx, tx, instance.ID); err != nil {
		return domain.Case{}, fmt.Errorf("seed workflow steps: %w", err)
	}
	if _, err := e.Timeline.Append(ctx, tx, c.TenantID, c.ID, "case.created", "Case opened",
		fmt.Sprintf("Opened at stage %s", stage), opts.ActorID, timeline.Metadata{"stage": stage}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// TaskCreateOptions are parameters for a manually created task.
type TaskCreateOptions struct {
	TenantID    string
	CaseID      string
	Title       string
	Description string
	Priority    string
	DueInDays   int
	AssigneeID  string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	c, err := e.Repo.GetCase(ctx, opts.TenantID, opts.CaseID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	priority := opts.Priority
	if priority == "" {
		priority = "medium"
	}
	t := domain.Task{
		ID:          uuid.New().String(),
		TenantID:    c.TenantID,
		CaseID:      c.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    priority,
		AssigneeID:  optionalString(opts.AssigneeID),
		Status:      "open",
		Origin:      "manual",
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if opts.DueInDays > 0 {
		due := calendar.AddBusinessDays(e.Calendar, now, opts.DueInDays, e.Config.Calendar.Region).Format(time.RFC3339)
		t.DueDate = &due
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Timeline.Append(ctx, tx, c.TenantID, c.ID, "task.created", "Task created", t.Title, opts.ActorID, timeline.Metadata{"task_id": t.ID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ensureTaskTransition validates a status change. Cancellation is a status,
// never a delete; terminal statuses have no exits.
func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "open":
		if newStatus == "in_progress" || newStatus == "cancelled" {
			return nil
		}
	case "in_progress":
		if newStatus == "completed" || newStatus == "cancelled" || newStatus == "open" {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) UpdateTaskStatus(ctx context.Context, tenantID, taskID, status, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return t, err
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return t, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	original := t.Status
	t.Status = status
	t.UpdatedAt = nowStr
	if status == "completed" {
		t.CompletedAt = &nowStr
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if _, err := e.Timeline.Append(ctx, tx, t.TenantID, t.CaseID, "task.status", "Task status changed", t.Title, actorID, timeline.Metadata{
		"task_id":     t.ID,
		"from_status": original,
		"to_status":   status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// NoticeCreateOptions record one notice issued within a stage instance.
type NoticeCreateOptions struct {
	TenantID        string
	StageInstanceID string
	NoticeNo        string
	ReplyDueInDays  int
	ActorID         string
}

func (e Engine) RecordNotice(ctx context.Context, opts NoticeCreateOptions) (domain.Notice, error) {
	si, err := e.Repo.GetStageInstance(ctx, opts.TenantID, opts.StageInstanceID)
	if err != nil {
		return domain.Notice{}, err
	}
	now := e.now().UTC()
	n := domain.Notice{
		ID:              uuid.New().String(),
		TenantID:        opts.TenantID,
		StageInstanceID: si.ID,
		NoticeNo:        opts.NoticeNo,
		Status:          "awaiting_reply",
		IssuedAt:        now.Format(time.RFC3339),
	}
	if opts.ReplyDueInDays > 0 {
		due := calendar.AddBusinessDays(e.Calendar, now, opts.ReplyDueInDays, e.Config.Calendar.Region).Format(time.RFC3339)
		n.ReplyDueDate = &due
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return n, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNotice(ctx, tx, n); err != nil {
		return n, err
	}
	if _, err := e.Timeline.Append(ctx, tx, si.TenantID, si.CaseID, "notice.recorded", "Notice recorded", n.NoticeNo, opts.ActorID, timeline.Metadata{"notice_id": n.ID}); err != nil {
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

// RecordReply files a reply against a notice and flips it out of
// awaiting_reply, which is what unblocks stage closure.
func (e Engine) RecordReply(ctx context.Context, tenantID, noticeID, summary, actorID string) (domain.Reply, error) {
	n, err := e.Repo.GetNotice(ctx, tenantID, noticeID)
	if err != nil {
		return domain.Reply{}, err
	}
	si, err := e.Repo.GetStageInstance(ctx, tenantID, n.StageInstanceID)
	if err != nil {
		return domain.Reply{}, err
	}
	rep := domain.Reply{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		NoticeID: n.ID,
		FiledBy:  actorID,
		FiledAt:  e.now().UTC().Format(time.RFC3339),
		Summary:  summary,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReply(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Repo.SetNoticeStatus(ctx, tx, tenantID, n.ID, "replied"); err != nil {
		return rep, err
	}
	if _, err := e.Timeline.Append(ctx, tx, tenantID, si.CaseID, "reply.filed", "Reply filed", n.NoticeNo, actorID, timeline.Metadata{"notice_id": n.ID, "reply_id": rep.ID}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

type HearingCreateOptions struct {
	TenantID        string
	StageInstanceID string
	ScheduledFor    string
	Notes           string
	ActorID         string
}

func (e Engine) ScheduleHearing(ctx context.Context, opts HearingCreateOptions) (domain.Hearing, error) {
	si, err := e.Repo.GetStageInstance(ctx, opts.TenantID, opts.StageInstanceID)
	if err != nil {
		return domain.Hearing{}, err
	}
	if _, err := time.Parse(time.RFC3339, opts.ScheduledFor); err != nil {
		return domain.Hearing{}, fmt.Errorf("scheduled_for: %w", err)
	}
	h := domain.Hearing{
		ID:              uuid.New().String(),
		TenantID:        opts.TenantID,
		StageInstanceID: si.ID,
		ScheduledFor:    opts.ScheduledFor,
		Status:          "scheduled",
		Notes:           opts.Notes,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return h, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertHearing(ctx, tx, h); err != nil {
		return h, err
	}
	if _, err := e.Timeline.Append(ctx, tx, si.TenantID, si.CaseID, "hearing.scheduled", "Hearing scheduled", opts.ScheduledFor, opts.ActorID, timeline.Metadata{"hearing_id": h.ID}); err != nil {
		return h, err
	}
	if err := tx.Commit(); err != nil {
		return h, err
	}
	return h, nil
}

func (e Engine) SetHearingStatus(ctx context.Context, tenantID, hearingID, status, notes, actorID string) error {
	switch status {
	case "held", "adjourned", "cancelled":
	default:
		return fmt.Errorf("invalid hearing status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetHearingStatus(ctx, tx, tenantID, hearingID, status, notes); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureEmployee registers an employee in the tenant directory. When the id
// already exists, the stored record wins and is returned unchanged. Active
// is taken as given, so an inactive employee can be seeded and stays
// invisible to role-based assignment and escalation targeting.
func (e Engine) EnsureEmployee(ctx context.Context, emp domain.Employee) (domain.Employee, error) {
	if emp.ID == "" {
		emp.ID = uuid.New().String()
	}
	if emp.Name == "" || emp.Role == "" {
		return emp, errors.New("name and role required")
	}
	if emp.CreatedAt == "" {
		emp.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	if existing, err := e.Repo.GetEmployee(ctx, emp.TenantID, emp.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return emp, err
	}
	return emp, e.Repo.InsertEmployee(ctx, emp)
}
