package domain

// Case is the legal matter being managed. CurrentStage always holds a
// canonical stage key; free-text labels are resolved at the boundary.
type Case struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	Title          string  `json:"title"`
	CurrentStage   string  `json:"current_stage"`
	OwnerID        *string `json:"owner_id,omitempty"`
	DisputedAmount float64 `json:"disputed_amount"`
	SeniorCounsel  bool    `json:"senior_counsel"`
	Status         string  `json:"status" enum:"active,closed"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// StageInstance is one activation of a stage for a case. CycleNo increments
// each time a remand re-enters the same stage key.
type StageInstance struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	CaseID    string  `json:"case_id"`
	StageKey  string  `json:"stage_key"`
	CycleNo   int     `json:"cycle_no"`
	Status    string  `json:"status" enum:"active,closed"`
	StartedAt string  `json:"started_at" format:"date-time"`
	ClosedAt  *string `json:"closed_at,omitempty" format:"date-time"`
	CreatedBy string  `json:"created_by"`
}

type Task struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	CaseID      string  `json:"case_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Priority    string  `json:"priority" enum:"low,medium,high,critical"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Status      string  `json:"status" enum:"open,in_progress,completed,cancelled"`
	Origin      string  `json:"origin" enum:"auto,manual"`
	TemplateKey *string `json:"template_key,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Footprint records that a transition signature has already produced its
// side effects. At most one row may ever exist per signature.
type Footprint struct {
	Signature       string   `json:"signature"`
	TenantID        string   `json:"tenant_id"`
	CaseID          string   `json:"case_id"`
	State           string   `json:"state" enum:"reserved,committed"`
	TaskIDs         []string `json:"task_ids,omitempty"`
	StageInstanceID *string  `json:"stage_instance_id,omitempty"`
	TimelineEntryID *int64   `json:"timeline_entry_id,omitempty"`
	TemplateVersion string   `json:"template_version,omitempty"`
	ReservedAt      string   `json:"reserved_at" format:"date-time"`
	ExpiresAt       string   `json:"expires_at" format:"date-time"`
	CommittedAt     *string  `json:"committed_at,omitempty" format:"date-time"`
}

// Workflow step keys, in their declared order within a stage instance.
const (
	StepNotices  = "notices"
	StepReply    = "reply"
	StepHearings = "hearings"
	StepClosure  = "closure"
)

// StepOrder is the fixed step sequence seeded on every stage instance.
var StepOrder = []string{StepNotices, StepReply, StepHearings, StepClosure}

type WorkflowStep struct {
	StageInstanceID string  `json:"stage_instance_id"`
	StepKey         string  `json:"step_key" enum:"notices,reply,hearings,closure"`
	Position        int     `json:"position"`
	Status          string  `json:"status" enum:"pending,in_progress,completed,skipped"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy     *string `json:"completed_by,omitempty"`
	SkipReason      *string `json:"skip_reason,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type Notice struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	StageInstanceID string  `json:"stage_instance_id"`
	NoticeNo        string  `json:"notice_no"`
	Status          string  `json:"status" enum:"awaiting_reply,replied,closed"`
	IssuedAt        string  `json:"issued_at" format:"date-time"`
	ReplyDueDate    *string `json:"reply_due_date,omitempty" format:"date-time"`
}

type Reply struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	NoticeID string `json:"notice_id"`
	FiledBy  string `json:"filed_by"`
	FiledAt  string `json:"filed_at" format:"date-time"`
	Summary  string `json:"summary,omitempty"`
}

type Hearing struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	StageInstanceID string `json:"stage_instance_id"`
	ScheduledFor    string `json:"scheduled_for" format:"date-time"`
	Status          string `json:"status" enum:"scheduled,held,adjourned,cancelled"`
	Notes           string `json:"notes,omitempty"`
}

type Employee struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	ManagerID *string `json:"manager_id,omitempty"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// EscalationEvent is one firing of an escalation rule against one task.
// A task carries at most one pending event at a time.
type EscalationEvent struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	TaskID     string  `json:"task_id"`
	RuleKey    string  `json:"rule_key"`
	Status     string  `json:"status" enum:"pending,contacted,resolved,escalated"`
	TargetID   *string `json:"target_id,omitempty"`
	TargetRole string  `json:"target_role,omitempty"`
	Note       string  `json:"note,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
}

// TimelineEntry is one immutable row of a case's append-only history.
type TimelineEntry struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenant_id"`
	CaseID      string `json:"case_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ActorID     string `json:"actor_id"`
	TS          string `json:"ts" format:"date-time"`
	Metadata    string `json:"metadata_json,omitempty"`
}

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,suspended"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
