// Package catalog holds the ordered stage lifecycle and resolves historical
// free-text stage labels to canonical keys. A Catalog is built once at
// process start from configuration and never mutated afterwards.
package catalog

import (
	"fmt"
	"strings"

	"caseline/internal/config"
)

// UnknownStageError is terminal: the caller must correct its input.
type UnknownStageError struct {
	Label string
}

func (e UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage label %q", e.Label)
}

type Catalog struct {
	order   []string
	index   map[string]int
	aliases map[string]string
}

// New builds an immutable catalog from validated configuration.
func New(cfg *config.Config) *Catalog {
	c := &Catalog{
		order:   append([]string(nil), cfg.Stages.Order...),
		index:   make(map[string]int, len(cfg.Stages.Order)),
		aliases: make(map[string]string, len(cfg.Stages.Aliases)),
	}
	for i, key := range c.order {
		c.index[key] = i
	}
	for label, key := range cfg.Stages.Aliases {
		c.aliases[normalize(label)] = key
	}
	return c
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Canonicalize maps any historical or free-text stage label to a canonical
// stage key. Unrecognized labels fail rather than defaulting.
func (c *Catalog) Canonicalize(label string) (string, error) {
	n := normalize(label)
	if n == "" {
		return "", UnknownStageError{Label: label}
	}
	if _, ok := c.index[n]; ok {
		return n, nil
	}
	if key, ok := c.aliases[n]; ok {
		return key, nil
	}
	// Labels like "first appeal" match the key "first_appeal".
	u := strings.ReplaceAll(n, " ", "_")
	if _, ok := c.index[u]; ok {
		return u, nil
	}
	return "", UnknownStageError{Label: label}
}

// Order returns the zero-based index of a canonical stage key.
func (c *Catalog) Order(stageKey string) (int, error) {
	i, ok := c.index[stageKey]
	if !ok {
		return 0, UnknownStageError{Label: stageKey}
	}
	return i, nil
}

// NextForward returns the stage after stageKey, or "" at the end of the
// lifecycle.
func (c *Catalog) NextForward(stageKey string) (string, error) {
	i, err := c.Order(stageKey)
	if err != nil {
		return "", err
	}
	if i+1 >= len(c.order) {
		return "", nil
	}
	return c.order[i+1], nil
}

// Stages returns the ordered stage keys.
func (c *Catalog) Stages() []string {
	return append([]string(nil), c.order...)
}

// First returns the opening stage of the lifecycle.
func (c *Catalog) First() string {
	return c.order[0]
}
