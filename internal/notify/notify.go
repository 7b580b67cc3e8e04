// Package notify requests notification delivery. Dispatch is fire-and-forget:
// failures are logged and never fail the owning operation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"caseline/internal/config"
)

// Dispatcher is the consumed notification interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, recipients []string, template string, payload map[string]any)
}

// LogDispatcher records dispatch requests to the process log. Used for local
// workspaces and as the fallback when no webhooks are configured.
type LogDispatcher struct {
	Logger *log.Logger
}

func (d LogDispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d LogDispatcher) Dispatch(ctx context.Context, eventType string, recipients []string, template string, payload map[string]any) {
	d.logger().Printf("notify: %s -> %s (template %s)", eventType, strings.Join(recipients, ","), template)
}

const defaultWebhookTimeout = 5 * time.Second

// WebhookDispatcher POSTs notification requests to configured endpoints in a
// background goroutine per dispatch.
type WebhookDispatcher struct {
	Webhooks []config.WebhookConfig
	TenantID string
	Client   *http.Client
	Logger   *log.Logger
}

func NewWebhookDispatcher(cfg *config.Config) *WebhookDispatcher {
	return &WebhookDispatcher{
		Webhooks: cfg.Notifications.Webhooks,
		TenantID: cfg.Tenant.ID,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (d *WebhookDispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

type notification struct {
	EventType  string         `json:"event_type"`
	TenantID   string         `json:"tenant_id"`
	Recipients []string       `json:"recipients"`
	Template   string         `json:"template"`
	Payload    map[string]any `json:"payload,omitempty"`
	TS         string         `json:"ts"`
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, eventType string, recipients []string, template string, payload map[string]any) {
	body := notification{
		EventType:  eventType,
		TenantID:   d.TenantID,
		Recipients: recipients,
		Template:   template,
		Payload:    payload,
		TS:         time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		for _, hook := range d.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			if !matchesEvent(hook.Events, eventType) {
				continue
			}
			if err := d.post(hook, body); err != nil {
				d.logger().Printf("notify: deliver %s to %s failed: %v", eventType, hook.URL, err)
			}
		}
	}()
}

func (d *WebhookDispatcher) post(hook config.WebhookConfig, body notification) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.Client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", body.EventType)
	req.Header.Set("X-Caseline-Tenant", d.TenantID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caseline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

func matchesEvent(events []string, eventType string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}
