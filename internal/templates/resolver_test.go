package templates_test

import (
	"strings"
	"testing"

	"caseline/internal/config"
	"caseline/internal/templates"
)

func newResolver() *templates.Resolver {
	return templates.New(config.Default("tenant-1"))
}

func TestResolveBaseRule(t *testing.T) {
	r := newResolver()
	got, err := r.Resolve("assessment", "adjudication", "forward", templates.CaseAttributes{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("resolved %d templates, want 3", len(got))
	}
	if got[0].Key != "adjudication.review_order" {
		t.Fatalf("first template = %s", got[0].Key)
	}
	if r.Version() != "2026-01" {
		t.Fatalf("version = %s", r.Version())
	}
}

func TestResolveMissingRuleFails(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve("first_appeal", "tribunal", "remand", templates.CaseAttributes{})
	if err == nil {
		t.Fatal("missing rule must be an error, not an empty set")
	}
	if !strings.Contains(err.Error(), "tribunal") {
		t.Fatalf("error should name the stage: %v", err)
	}
}

func TestModifiersAppendOnMatch(t *testing.T) {
	r := newResolver()

	base, err := r.Resolve("assessment", "adjudication", "forward", templates.CaseAttributes{DisputedAmount: 500_000})
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 3 {
		t.Fatalf("below-threshold case got %d templates, want 3", len(base))
	}

	highValue, err := r.Resolve("assessment", "adjudication", "forward", templates.CaseAttributes{DisputedAmount: 25_000_000})
	if err != nil {
		t.Fatal(err)
	}
	if len(highValue) != 4 {
		t.Fatalf("high-value case got %d templates, want 4", len(highValue))
	}
	if highValue[3].Key != "review.partner_signoff" {
		t.Fatalf("modifier template = %s", highValue[3].Key)
	}

	both, err := r.Resolve("assessment", "adjudication", "forward", templates.CaseAttributes{DisputedAmount: 25_000_000, SeniorCounsel: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 5 {
		t.Fatalf("high-value senior-counsel case got %d templates, want 5", len(both))
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver()
	attrs := templates.CaseAttributes{DisputedAmount: 25_000_000, SeniorCounsel: true}
	a, err := r.Resolve("tribunal", "high_court", "forward", attrs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve("tribunal", "high_court", "forward", attrs)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("repeat resolution differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			t.Fatalf("template order changed at %d: %s vs %s", i, a[i].Key, b[i].Key)
		}
	}
}
