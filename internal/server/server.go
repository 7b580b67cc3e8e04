package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseline/internal/catalog"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/escalation"
	"caseline/internal/repo"
	"caseline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Tracker   workflow.Tracker
	Evaluator escalation.Evaluator
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"target stage equals source stage"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDevAuth(group, cfg.Auth)
	registerStages(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerWorkflow(group, cfg.Tracker)
	registerNotices(group, cfg.Engine)
	registerHearings(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerEscalations(group, cfg.Engine, cfg.Evaluator)
	registerTimeline(group, cfg.Engine)
	registerEmployees(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var use catalog.UnknownStageError
	if errors.As(err, &use) {
		return newAPIError(http.StatusBadRequest, "unknown_stage", err.Error(), map[string]any{"label": use.Label})
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from": ite.From,
			"to":   ite.To,
		})
	}
	var cbe workflow.ClosureBlockedError
	if errors.As(err, &cbe) {
		return newAPIError(http.StatusConflict, "closure_blocked", err.Error(), map[string]any{
			"reasons": cbe.Reasons,
		})
	}
	var tre engine.TemplateResolutionError
	if errors.As(err, &tre) {
		return newAPIError(http.StatusUnprocessableEntity, "template_resolution_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not the current step"):
		return newAPIError(http.StatusConflict, "step_conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// tenantFromContext resolves the effective tenant: JWT claim, then the
// X-Tenant-Id header, then the configured default.
func tenantFromContext(ctx context.Context, fallback string) string {
	if p, ok := principalFromContext(ctx); ok && p.Tenant != "" {
		return p.Tenant
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if h := strings.TrimSpace(req.Header.Get("X-Tenant-Id")); h != "" {
			return h
		}
	}
	return fallback
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.TenantID, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "Ordered stage lifecycle",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StagesResponse `json:"body"`
	}, error) {
		return &struct {
			Body StagesResponse `json:"body"`
		}{Body: StagesResponse{Order: e.Catalog.Stages()}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CaseCreateOptions{
			TenantID:       tenantFromContext(ctx, e.Config.Tenant.ID),
			Title:          input.Body.Title,
			DisputedAmount: input.Body.DisputedAmount,
			SeniorCounsel:  input.Body.SeniorCounsel,
			ActorID:        actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Stage != nil {
			opts.Stage = *input.Body.Stage
		}
		if input.Body.OwnerID != nil {
			opts.OwnerID = *input.Body.OwnerID
		}
		c, err := e.CreateCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		Stage  string `query:"stage"`
		Status string `query:"status"`
		Owner  string `query:"owner"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		items, err := e.Repo.ListCases(ctx, tenantID, repo.CaseFilters{
			Stage:  input.Stage,
			Status: input.Status,
			Owner:  input.Owner,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		c, err := e.Repo.GetCase(ctx, tenantID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Update case attributes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		nowStr := e.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateCase(ctx, tenantID, input.CaseID,
			input.Body.Title, input.Body.OwnerID, input.Body.DisputedAmount, input.Body.SeniorCounsel, nowStr); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCase(ctx, tenantID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-stages",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/stages",
		Summary:     "Stage instance history for a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.StageInstance `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		if _, err := e.Repo.GetCase(ctx, tenantID, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStageInstances(ctx, tenantID, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageInstance `json:"body"`
		}{Body: items}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/transition",
		Summary:     "Move a case to another stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.TransitionResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ToStage == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_stage is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TransitionOptions{
			TenantID:  tenantFromContext(ctx, e.Config.Tenant.ID),
			CaseID:    input.CaseID,
			FromStage: input.Body.FromStage,
			ToStage:   input.Body.ToStage,
			ActorID:   actorID,
		}
		var (
			res engine.TransitionResult
			err error
		)
		if input.Body.Retry {
			res, err = e.ProcessTransitionWithRetry(ctx, opts)
		} else {
			res, err = e.ProcessTransition(ctx, opts)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TransitionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerWorkflow(api huma.API, tr workflow.Tracker) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workflow-state",
		Method:      http.MethodGet,
		Path:        "/stage-instances/{stage_instance_id}/workflow",
		Summary:     "Workflow state for a stage instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageInstanceID string `path:"stage_instance_id"`
	}) (*struct {
		Body workflow.WorkflowState `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, tr.Engine.Config.Tenant.ID)
		state, err := tr.GetWorkflowState(ctx, tenantID, input.StageInstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.WorkflowState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/stage-instances/{stage_instance_id}/steps/{step_key}/complete",
		Summary:     "Complete the current workflow step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		StageInstanceID string `path:"stage_instance_id"`
		StepKey         string `path:"step_key" enum:"notices,reply,hearings,closure"`
	}) (*struct {
		Body workflow.StepResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, tr.Engine.Config.Tenant.ID)
		res, err := tr.CompleteStep(ctx, tenantID, input.StageInstanceID, input.StepKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.StepResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-step",
		Method:      http.MethodPost,
		Path:        "/stage-instances/{stage_instance_id}/steps/{step_key}/skip",
		Summary:     "Skip the current workflow step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		StageInstanceID string          `path:"stage_instance_id"`
		StepKey         string          `path:"step_key" enum:"notices,reply,hearings,closure"`
		Body            SkipStepRequest `json:"body"`
	}) (*struct {
		Body workflow.StepResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, tr.Engine.Config.Tenant.ID)
		res, err := tr.SkipStep(ctx, tenantID, input.StageInstanceID, input.StepKey, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.StepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerNotices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-notice",
		Method:        http.MethodPost,
		Path:          "/stage-instances/{stage_instance_id}/notices",
		Summary:       "Record a notice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageInstanceID string              `path:"stage_instance_id"`
		Body            CreateNoticeRequest `json:"body"`
	}) (*struct {
		Body domain.Notice `json:"body"`
	}, error) {
		if input.Body.NoticeNo == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "notice_no is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.RecordNotice(ctx, engine.NoticeCreateOptions{
			TenantID:        tenantFromContext(ctx, e.Config.Tenant.ID),
			StageInstanceID: input.StageInstanceID,
			NoticeNo:        input.Body.NoticeNo,
			ReplyDueInDays:  input.Body.ReplyDueInDays,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notice `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notices",
		Method:      http.MethodGet,
		Path:        "/stage-instances/{stage_instance_id}/notices",
		Summary:     "List notices on a stage instance",
	}, func(ctx context.Context, input *struct {
		StageInstanceID string `path:"stage_instance_id"`
	}) (*struct {
		Body []domain.Notice `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		items, err := e.Repo.ListNotices(ctx, tenantID, input.StageInstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notice `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "file-reply",
		Method:        http.MethodPost,
		Path:          "/notices/{notice_id}/reply",
		Summary:       "File a reply to a notice",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NoticeID string             `path:"notice_id"`
		Body     CreateReplyRequest `json:"body"`
	}) (*struct {
		Body domain.Reply `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		rep, err := e.RecordReply(ctx, tenantID, input.NoticeID, input.Body.Summary, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reply `json:"body"`
		}{Body: rep}, nil
	})
}

func registerHearings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-hearing",
		Method:        http.MethodPost,
		Path:          "/stage-instances/{stage_instance_id}/hearings",
		Summary:       "Schedule a hearing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageInstanceID string               `path:"stage_instance_id"`
		Body            CreateHearingRequest `json:"body"`
	}) (*struct {
		Body domain.Hearing `json:"body"`
	}, error) {
		if input.Body.ScheduledFor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "scheduled_for is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.ScheduleHearing(ctx, engine.HearingCreateOptions{
			TenantID:        tenantFromContext(ctx, e.Config.Tenant.ID),
			StageInstanceID: input.StageInstanceID,
			ScheduledFor:    input.Body.ScheduledFor,
			Notes:           input.Body.Notes,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Hearing `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-hearing",
		Method:      http.MethodPatch,
		Path:        "/hearings/{hearing_id}",
		Summary:     "Record the outcome of a hearing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HearingID string               `path:"hearing_id"`
		Body      UpdateHearingRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		if err := e.SetHearingStatus(ctx, tenantID, input.HearingID, input.Body.Status, input.Body.Notes, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/tasks",
		Summary:       "Create a manual task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			TenantID:    tenantFromContext(ctx, e.Config.Tenant.ID),
			CaseID:      input.CaseID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Priority:    stringOrEmpty(input.Body.Priority),
			DueInDays:   input.Body.DueInDays,
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
			ActorID:     actorID,
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		CaseID   string `query:"case_id"`
		Status   string `query:"status"`
		Assignee string `query:"assignee"`
		Origin   string `query:"origin"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		items, err := e.Repo.ListTasks(ctx, tenantID, repo.TaskFilters{
			CaseID:   input.CaseID,
			Status:   input.Status,
			Assignee: input.Assignee,
			Origin:   input.Origin,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		t, err := e.Repo.GetTask(ctx, tenantID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		t, err := e.UpdateTaskStatus(ctx, tenantID, input.TaskID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine, ev escalation.Evaluator) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-escalations",
		Method:      http.MethodPost,
		Path:        "/escalations/sweep",
		Summary:     "Evaluate overdue tasks and raise escalations",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		n, err := ev.CheckAndEscalate(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{EscalationsCreated: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-escalation-status",
		Method:      http.MethodPatch,
		Path:        "/escalations/{escalation_id}/status",
		Summary:     "Mark an escalation contacted or resolved",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EscalationID string                  `path:"escalation_id"`
		Body         UpdateEscalationRequest `json:"body"`
	}) (*struct {
		Body domain.EscalationEvent `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		event, err := ev.SetStatus(ctx, tenantID, input.EscalationID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EscalationEvent `json:"body"`
		}{Body: event}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/escalations",
		Summary:     "List escalation events",
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.EscalationEvent `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		items, err := e.Repo.ListEscalationEvents(ctx, tenantID, repo.EscalationFilters{
			TaskID: input.TaskID,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EscalationEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "case-timeline",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/timeline",
		Summary:     "Append-only case history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.TimelineEntry `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		if _, err := e.Repo.GetCase(ctx, tenantID, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTimeline(ctx, tenantID, input.CaseID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TimelineEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerEmployees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-employee",
		Method:        http.MethodPost,
		Path:          "/employees",
		Summary:       "Register an employee",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateEmployeeRequest `json:"body"`
	}) (*struct {
		Body domain.Employee `json:"body"`
	}, error) {
		if input.Body.Name == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and role are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		emp := domain.Employee{
			TenantID:  tenantFromContext(ctx, e.Config.Tenant.ID),
			Name:      input.Body.Name,
			Role:      input.Body.Role,
			ManagerID: input.Body.ManagerID,
			Active:    true,
		}
		if input.Body.Active != nil {
			emp.Active = *input.Body.Active
		}
		if input.Body.ID != nil {
			emp.ID = *input.Body.ID
		}
		emp, err := e.EnsureEmployee(ctx, emp)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Employee `json:"body"`
		}{Body: emp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-employees",
		Method:      http.MethodGet,
		Path:        "/employees",
		Summary:     "List employees",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Employee `json:"body"`
	}, error) {
		tenantID := tenantFromContext(ctx, e.Config.Tenant.ID)
		items, err := e.Repo.ListEmployees(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Employee `json:"body"`
		}{Body: items}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
