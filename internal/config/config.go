package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml. The loaded value is immutable; components
// receive it by reference at construction and never mutate it.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`

	Stages struct {
		// Order lists canonical stage keys from first to last.
		Order []string `yaml:"order"`
		// Aliases maps legacy/free-text labels to canonical keys.
		Aliases map[string]string `yaml:"aliases"`
	} `yaml:"stages"`

	Templates struct {
		Version string         `yaml:"version"`
		Rules   []TemplateRule `yaml:"rules"`
		// Modifiers add templates when case attributes match.
		Modifiers []TemplateModifier `yaml:"modifiers"`
	} `yaml:"templates"`

	Escalation struct {
		Rules []EscalationRule `yaml:"rules"`
	} `yaml:"escalation"`

	Notifications struct {
		// HighValueAmount marks cases whose stakeholders are notified on
		// every transition.
		HighValueAmount float64         `yaml:"high_value_amount"`
		Webhooks        []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`

	Footprints struct {
		ReservationTTLMinutes int `yaml:"reservation_ttl_minutes"`
	} `yaml:"footprints"`

	Calendar struct {
		Region   string   `yaml:"region"`
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
}

// TemplateRule yields the base template list for (to_stage, transition_type).
type TemplateRule struct {
	ToStage        string         `yaml:"to_stage"`
	TransitionType string         `yaml:"transition_type"`
	Templates      []TaskTemplate `yaml:"templates"`
}

type TaskTemplate struct {
	Key          string `yaml:"key"`
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	Priority     string `yaml:"priority"`
	DueInDays    int    `yaml:"due_in_days"`
	AssigneeRole string `yaml:"assignee_role"`
}

// TemplateModifier appends templates when the case matches its conditions.
type TemplateModifier struct {
	Key           string         `yaml:"key"`
	MinAmount     float64        `yaml:"min_amount"`
	SeniorCounsel bool           `yaml:"senior_counsel"`
	Templates     []TaskTemplate `yaml:"templates"`
}

// EscalationRule fires on the first match, in declared order.
type EscalationRule struct {
	Key          string   `yaml:"key"`
	HoursOverdue int      `yaml:"hours_overdue"`
	Priorities   []string `yaml:"priorities"`
	Stage        string   `yaml:"stage"`
	NotifyRoles  []string `yaml:"notify_roles"`
	EscalateRole string   `yaml:"escalate_to_role"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// ReservationTTL returns the footprint reservation expiry window.
func (c *Config) ReservationTTL() time.Duration {
	minutes := c.Footprints.ReservationTTLMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cl tenant config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if len(c.Stages.Order) < 2 {
		return fmt.Errorf("config.stages.order needs at least two stages")
	}
	seen := map[string]bool{}
	for _, key := range c.Stages.Order {
		if key == "" {
			return fmt.Errorf("config.stages.order contains empty stage key")
		}
		if seen[key] {
			return fmt.Errorf("config.stages.order repeats stage %s", key)
		}
		seen[key] = true
	}
	for label, key := range c.Stages.Aliases {
		if label == "" {
			return fmt.Errorf("config.stages.aliases contains empty label")
		}
		if !seen[key] {
			return fmt.Errorf("alias %q maps to unknown stage %s", label, key)
		}
	}
	if c.Templates.Version == "" {
		return fmt.Errorf("config.templates.version is required")
	}
	for _, rule := range c.Templates.Rules {
		if !seen[rule.ToStage] {
			return fmt.Errorf("template rule targets unknown stage %s", rule.ToStage)
		}
		if rule.TransitionType != "forward" && rule.TransitionType != "remand" {
			return fmt.Errorf("template rule for %s has invalid transition_type %q", rule.ToStage, rule.TransitionType)
		}
		for _, t := range rule.Templates {
			if t.Key == "" || t.Title == "" {
				return fmt.Errorf("template rule for %s has template without key/title", rule.ToStage)
			}
		}
	}
	for _, mod := range c.Templates.Modifiers {
		if mod.Key == "" {
			return fmt.Errorf("template modifier missing key")
		}
		// A modifier with no condition would match every case.
		if mod.MinAmount <= 0 && !mod.SeniorCounsel {
			return fmt.Errorf("template modifier %s needs min_amount or senior_counsel", mod.Key)
		}
		if len(mod.Templates) == 0 {
			return fmt.Errorf("template modifier %s adds no templates", mod.Key)
		}
	}
	ruleKeys := map[string]bool{}
	for _, rule := range c.Escalation.Rules {
		if rule.Key == "" {
			return fmt.Errorf("escalation rule missing key")
		}
		if ruleKeys[rule.Key] {
			return fmt.Errorf("escalation rule key %s repeated", rule.Key)
		}
		ruleKeys[rule.Key] = true
		if rule.HoursOverdue <= 0 {
			return fmt.Errorf("escalation rule %s needs hours_overdue > 0", rule.Key)
		}
		if rule.EscalateRole == "" {
			return fmt.Errorf("escalation rule %s needs escalate_to_role", rule.Key)
		}
	}
	for _, day := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("calendar holiday %q is not YYYY-MM-DD: %w", day, err)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	cfg.Tenant.ID = tenantID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, tenantID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s
  name: Default Tenant

stages:
  order: [assessment, adjudication, first_appeal, tribunal, high_court, supreme_court]
  aliases:
    "Assessment": assessment
    "Scrutiny Assessment": assessment
    "Adjudication": adjudication
    "Order-in-Original": adjudication
    "First Appeal": first_appeal
    "Commissioner (Appeals)": first_appeal
    "Appeal": first_appeal
    "Tribunal": tribunal
    "Appellate Tribunal": tribunal
    "High Court": high_court
    "HC": high_court
    "Supreme Court": supreme_court
    "SC": supreme_court

templates:
  version: "2026-01"
  rules:
    - to_stage: adjudication
      transition_type: forward
      templates:
        - key: adjudication.review_order
          title: "Review assessment order"
          description: "Study the assessment order and note grounds of dispute"
          priority: high
          due_in_days: 7
          assignee_role: associate
        - key: adjudication.draft_submission
          title: "Draft adjudication submission"
          priority: high
          due_in_days: 14
          assignee_role: associate
        - key: adjudication.collate_evidence
          title: "Collate supporting evidence"
          priority: medium
          due_in_days: 10
          assignee_role: paralegal
    - to_stage: first_appeal
      transition_type: forward
      templates:
        - key: appeal.grounds
          title: "Draft grounds of appeal"
          priority: high
          due_in_days: 15
          assignee_role: counsel
        - key: appeal.statement_of_facts
          title: "Prepare statement of facts"
          priority: medium
          due_in_days: 10
          assignee_role: associate
    - to_stage: tribunal
      transition_type: forward
      templates:
        - key: tribunal.memo
          title: "File tribunal appeal memo"
          priority: high
          due_in_days: 20
          assignee_role: counsel
        - key: tribunal.paperbook
          title: "Compile paperbook"
          priority: medium
          due_in_days: 25
          assignee_role: paralegal
    - to_stage: high_court
      transition_type: forward
      templates:
        - key: hc.substantial_question
          title: "Frame substantial questions of law"
          priority: critical
          due_in_days: 20
          assignee_role: counsel
    - to_stage: supreme_court
      transition_type: forward
      templates:
        - key: sc.slp
          title: "Draft special leave petition"
          priority: critical
          due_in_days: 30
          assignee_role: counsel
    - to_stage: assessment
      transition_type: remand
      templates:
        - key: remand.fresh_submission
          title: "Prepare fresh submission on remand"
          priority: high
          due_in_days: 15
          assignee_role: associate
    - to_stage: adjudication
      transition_type: remand
      templates:
        - key: remand.fresh_submission
          title: "Prepare fresh submission on remand"
          priority: high
          due_in_days: 15
          assignee_role: associate
    - to_stage: first_appeal
      transition_type: remand
      templates:
        - key: remand.fresh_submission
          title: "Prepare fresh submission on remand"
          priority: high
          due_in_days: 15
          assignee_role: associate
  modifiers:
    - key: high_value_review
      min_amount: 10000000
      templates:
        - key: review.partner_signoff
          title: "Partner review of filings"
          priority: critical
          due_in_days: 5
          assignee_role: partner
    - key: senior_counsel_brief
      senior_counsel: true
      templates:
        - key: review.counsel_brief
          title: "Brief senior counsel"
          priority: high
          due_in_days: 7
          assignee_role: partner

escalation:
  rules:
    - key: critical_24h
      hours_overdue: 24
      priorities: [high, critical]
      escalate_to_role: partner
      notify_roles: [manager]
    - key: standard_72h
      hours_overdue: 72
      priorities: [low, medium, high, critical]
      escalate_to_role: manager
      notify_roles: []

notifications:
  high_value_amount: 10000000
  webhooks: []

footprints:
  reservation_ttl_minutes: 15

calendar:
  region: default
  holidays:
    - "2026-01-26"
    - "2026-08-15"
    - "2026-10-02"
`
