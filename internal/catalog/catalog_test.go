package catalog_test

import (
	"errors"
	"testing"

	"caseline/internal/catalog"
	"caseline/internal/config"
)

func newCatalog() *catalog.Catalog {
	return catalog.New(config.Default("tenant-1"))
}

func TestCanonicalizeAcceptsKeysAliasesAndLabels(t *testing.T) {
	c := newCatalog()
	cases := map[string]string{
		"assessment":             "assessment",
		"  Assessment  ":         "assessment",
		"Scrutiny Assessment":    "assessment",
		"Order-in-Original":      "adjudication",
		"Commissioner (Appeals)": "first_appeal",
		"first appeal":           "first_appeal",
		"HC":                     "high_court",
		"Supreme Court":          "supreme_court",
	}
	for label, want := range cases {
		got, err := c.Canonicalize(label)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", label, err)
		}
		if got != want {
			t.Fatalf("Canonicalize(%q) = %s, want %s", label, got, want)
		}
	}
}

func TestCanonicalizeRejectsUnknownLabels(t *testing.T) {
	c := newCatalog()
	for _, label := range []string{"", "   ", "Planet Court", "assessments"} {
		_, err := c.Canonicalize(label)
		var unknown catalog.UnknownStageError
		if !errors.As(err, &unknown) {
			t.Fatalf("Canonicalize(%q) err = %v, want UnknownStageError", label, err)
		}
	}
}

func TestOrderFollowsConfiguredLifecycle(t *testing.T) {
	c := newCatalog()
	want := []string{"assessment", "adjudication", "first_appeal", "tribunal", "high_court", "supreme_court"}
	got := c.Stages()
	if len(got) != len(want) {
		t.Fatalf("Stages() = %v", got)
	}
	for i, key := range want {
		if got[i] != key {
			t.Fatalf("Stages()[%d] = %s, want %s", i, got[i], key)
		}
		idx, err := c.Order(key)
		if err != nil || idx != i {
			t.Fatalf("Order(%s) = %d, %v, want %d", key, idx, err, i)
		}
	}
	if c.First() != "assessment" {
		t.Fatalf("First() = %s", c.First())
	}
}

func TestNextForwardStopsAtFinalStage(t *testing.T) {
	c := newCatalog()
	next, err := c.NextForward("assessment")
	if err != nil || next != "adjudication" {
		t.Fatalf("NextForward(assessment) = %s, %v", next, err)
	}
	next, err = c.NextForward("supreme_court")
	if err != nil {
		t.Fatal(err)
	}
	if next != "" {
		t.Fatalf("NextForward(supreme_court) = %s, want empty", next)
	}
	if _, err := c.NextForward("nowhere"); err == nil {
		t.Fatal("NextForward must reject unknown stages")
	}
}
