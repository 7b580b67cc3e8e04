// Package templates selects the task templates instantiated by a stage
// transition. Resolution is a pure function of its inputs: the same
// transition and case attributes always yield the same template set, which
// is what lets the footprint store act as the sole duplication guard.
package templates

import (
	"fmt"

	"caseline/internal/config"
)

// CaseAttributes are the case fields template selection may branch on.
type CaseAttributes struct {
	DisputedAmount float64
	SeniorCounsel  bool
}

type Resolver struct {
	version   string
	rules     map[ruleKey][]config.TaskTemplate
	modifiers []config.TemplateModifier
}

type ruleKey struct {
	ToStage        string
	TransitionType string
}

// New builds an immutable resolver from validated configuration.
func New(cfg *config.Config) *Resolver {
	r := &Resolver{
		version:   cfg.Templates.Version,
		rules:     make(map[ruleKey][]config.TaskTemplate, len(cfg.Templates.Rules)),
		modifiers: append([]config.TemplateModifier(nil), cfg.Templates.Modifiers...),
	}
	for _, rule := range cfg.Templates.Rules {
		key := ruleKey{ToStage: rule.ToStage, TransitionType: rule.TransitionType}
		r.rules[key] = append(r.rules[key], rule.Templates...)
	}
	return r
}

// Version identifies the template set vintage recorded on footprints.
func (r *Resolver) Version() string {
	return r.version
}

// Resolve returns the template list for a transition. A missing rule for the
// (toStage, transitionType) pair is an error so that a configuration gap is
// surfaced instead of silently provisioning nothing.
func (r *Resolver) Resolve(fromStage, toStage, transitionType string, attrs CaseAttributes) ([]config.TaskTemplate, error) {
	base, ok := r.rules[ruleKey{ToStage: toStage, TransitionType: transitionType}]
	if !ok {
		return nil, fmt.Errorf("no task templates configured for stage %s via %s transition", toStage, transitionType)
	}
	out := append([]config.TaskTemplate(nil), base...)
	for _, mod := range r.modifiers {
		if !matches(mod, attrs) {
			continue
		}
		out = append(out, mod.Templates...)
	}
	return out, nil
}

func matches(mod config.TemplateModifier, attrs CaseAttributes) bool {
	if mod.MinAmount > 0 && attrs.DisputedAmount < mod.MinAmount {
		return false
	}
	if mod.SeniorCounsel && !attrs.SeniorCounsel {
		return false
	}
	return true
}
