package server

type DevLoginRequest struct {
	ActorID  string   `json:"actor_id"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateCaseRequest struct {
	ID             *string `json:"id,omitempty"`
	Title          string  `json:"title"`
	Stage          *string `json:"stage,omitempty"`
	OwnerID        *string `json:"owner_id,omitempty"`
	DisputedAmount float64 `json:"disputed_amount,omitempty"`
	SeniorCounsel  bool    `json:"senior_counsel,omitempty"`
}

type UpdateCaseRequest struct {
	Title          *string  `json:"title,omitempty"`
	OwnerID        *string  `json:"owner_id,omitempty"`
	DisputedAmount *float64 `json:"disputed_amount,omitempty"`
	SeniorCounsel  *bool    `json:"senior_counsel,omitempty"`
}

type TransitionRequest struct {
	FromStage string `json:"from_stage,omitempty"`
	ToStage   string `json:"to_stage"`
	Retry     bool   `json:"retry,omitempty"`
}

type SkipStepRequest struct {
	Reason string `json:"reason"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	DueInDays   int     `json:"due_in_days,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"open,in_progress,completed,cancelled"`
}

type CreateNoticeRequest struct {
	NoticeNo       string `json:"notice_no"`
	ReplyDueInDays int    `json:"reply_due_in_days,omitempty"`
}

type CreateReplyRequest struct {
	Summary string `json:"summary,omitempty"`
}

type CreateHearingRequest struct {
	ScheduledFor string `json:"scheduled_for" format:"date-time"`
	Notes        string `json:"notes,omitempty"`
}

type UpdateHearingRequest struct {
	Status string `json:"status" enum:"held,adjourned,cancelled"`
	Notes  string `json:"notes,omitempty"`
}

type CreateEmployeeRequest struct {
	ID        *string `json:"id,omitempty"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	ManagerID *string `json:"manager_id,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

type UpdateEscalationRequest struct {
	Status string `json:"status" enum:"contacted,resolved,escalated"`
}

type SweepResponse struct {
	EscalationsCreated int `json:"escalations_created"`
}

type StagesResponse struct {
	Order []string `json:"order"`
}
