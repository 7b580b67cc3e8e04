package config_test

import (
	"strings"
	"testing"

	"caseline/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("tenant-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Tenant.ID != "tenant-1" {
		t.Fatalf("tenant id = %s", cfg.Tenant.ID)
	}
	if len(cfg.Stages.Order) != 6 {
		t.Fatalf("stage count = %d", len(cfg.Stages.Order))
	}
	if got := cfg.ReservationTTL().Minutes(); got != 15 {
		t.Fatalf("reservation ttl = %v minutes", got)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("tenant-2")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("generated default did not parse: %v", err)
	}
	if cfg.Tenant.ID != "tenant-2" {
		t.Fatalf("tenant id = %s", cfg.Tenant.ID)
	}
	if len(cfg.Escalation.Rules) != 2 || cfg.Escalation.Rules[0].Key != "critical_24h" {
		t.Fatalf("escalation rules = %+v", cfg.Escalation.Rules)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{
			name:    "alias to unknown stage",
			mutate:  func(c *config.Config) { c.Stages.Aliases["CESTAT"] = "cestat" },
			wantMsg: "unknown stage",
		},
		{
			name:    "repeated stage key",
			mutate:  func(c *config.Config) { c.Stages.Order = append(c.Stages.Order, "assessment") },
			wantMsg: "repeats stage",
		},
		{
			name:    "bad transition type",
			mutate:  func(c *config.Config) { c.Templates.Rules[0].TransitionType = "sideways" },
			wantMsg: "invalid transition_type",
		},
		{
			name: "modifier without condition",
			mutate: func(c *config.Config) {
				c.Templates.Modifiers = append(c.Templates.Modifiers, config.TemplateModifier{
					Key:       "always_on",
					Templates: []config.TaskTemplate{{Key: "x", Title: "X"}},
				})
			},
			wantMsg: "min_amount or senior_counsel",
		},
		{
			name:    "escalation rule without threshold",
			mutate:  func(c *config.Config) { c.Escalation.Rules[0].HoursOverdue = 0 },
			wantMsg: "hours_overdue",
		},
		{
			name:    "malformed holiday",
			mutate:  func(c *config.Config) { c.Calendar.Holidays = append(c.Calendar.Holidays, "26-01-2026") },
			wantMsg: "not YYYY-MM-DD",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("tenant-1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}
