package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	Title          string  `json:"title"`
	CurrentStage   string  `json:"current_stage"`
	OwnerID        *string `json:"owner_id,omitempty"`
	DisputedAmount float64 `json:"disputed_amount"`
	SeniorCounsel  bool    `json:"senior_counsel"`
	Status         string  `json:"status"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	CaseID     string  `json:"case_id"`
	Title      string  `json:"title"`
	Priority   string  `json:"priority"`
	DueDate    *string `json:"due_date,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	Status     string  `json:"status"`
	Origin     string  `json:"origin"`
}

// TransitionResult reports one stage transition.
type TransitionResult struct {
	Signature       string   `json:"signature"`
	TransitionType  string   `json:"transition_type"`
	ToStage         string   `json:"to_stage"`
	CycleNo         int      `json:"cycle_no"`
	TasksCreated    int      `json:"tasks_created"`
	TaskIDs         []string `json:"task_ids,omitempty"`
	StageInstanceID string   `json:"stage_instance_id"`
	Replayed        bool     `json:"replayed"`
}

// WorkflowStep is one of the four per-stage steps.
type WorkflowStep struct {
	StageInstanceID string `json:"stage_instance_id"`
	StepKey         string `json:"step_key"`
	Position        int    `json:"position"`
	Status          string `json:"status"`
}

// WorkflowState aggregates a stage instance's progress.
type WorkflowState struct {
	Steps           []WorkflowStep `json:"steps"`
	CurrentStep     string         `json:"current_step"`
	CanClose        bool           `json:"can_close"`
	BlockingReasons []string       `json:"blocking_reasons,omitempty"`
}

// TimelineEntry is one row of a case's history.
type TimelineEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	ActorID string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCase opens a case.
func (c *Client) CreateCase(ctx context.Context, title string, disputedAmount float64) (Case, error) {
	body := map[string]any{
		"title":           title,
		"disputed_amount": disputedAmount,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("cases/%s", url.PathEscape(caseID)), nil, &resp)
	return resp, err
}

// Transition moves a case to another stage. Identical calls replay safely.
func (c *Client) Transition(ctx context.Context, caseID, fromStage, toStage string) (TransitionResult, error) {
	body := map[string]any{
		"from_stage": fromStage,
		"to_stage":   toStage,
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("cases/%s/transition", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// WorkflowState returns the step state of a stage instance.
func (c *Client) WorkflowState(ctx context.Context, stageInstanceID string) (WorkflowState, error) {
	var resp WorkflowState
	endpoint := fmt.Sprintf("stage-instances/%s/workflow", url.PathEscape(stageInstanceID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteStep completes the current workflow step.
func (c *Client) CompleteStep(ctx context.Context, stageInstanceID, stepKey string) error {
	endpoint := fmt.Sprintf("stage-instances/%s/steps/%s/complete", url.PathEscape(stageInstanceID), url.PathEscape(stepKey))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

// CreateTask creates a manual task on a case.
func (c *Client) CreateTask(ctx context.Context, caseID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("cases/%s/tasks", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally filtered by case.
func (c *Client) ListTasks(ctx context.Context, caseID string) ([]Task, error) {
	endpoint := "tasks"
	if caseID != "" {
		endpoint = fmt.Sprintf("tasks?case_id=%s", url.QueryEscape(caseID))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Timeline returns recent history for a case.
func (c *Client) Timeline(ctx context.Context, caseID string, limit int) ([]TimelineEntry, error) {
	endpoint := fmt.Sprintf("cases/%s/timeline", url.PathEscape(caseID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []TimelineEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SweepEscalations triggers the overdue-task sweep.
func (c *Client) SweepEscalations(ctx context.Context) (int, error) {
	var resp struct {
		EscalationsCreated int `json:"escalations_created"`
	}
	err := c.do(ctx, http.MethodPost, "escalations/sweep", map[string]any{}, &resp)
	return resp.EscalationsCreated, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.TenantID != "" {
		req.Header.Set("X-Tenant-Id", c.TenantID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
