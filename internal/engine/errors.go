package engine

import (
	"errors"
	"fmt"

	"caseline/internal/catalog"
)

// InvalidTransitionError is terminal: the requested stage pair cannot be
// classified as forward or remand.
type InvalidTransitionError struct {
	CaseID string
	From   string
	To     string
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for case %s: %s", e.From, e.To, e.CaseID, e.Reason)
}

// TemplateResolutionError is retryable; nothing has been mutated when it is
// returned.
type TemplateResolutionError struct {
	From string
	To   string
	Type string
	Err  error
}

func (e TemplateResolutionError) Error() string {
	return fmt.Sprintf("resolve templates for %s -> %s (%s): %v", e.From, e.To, e.Type, e.Err)
}

func (e TemplateResolutionError) Unwrap() error { return e.Err }

// PersistenceError is retryable; the footprint reservation has been released
// or will expire, so the same signature may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry with the same arguments.
func IsRetryable(err error) bool {
	var tre TemplateResolutionError
	var pe PersistenceError
	return errors.As(err, &tre) || errors.As(err, &pe)
}

// IsTerminal reports input errors the caller must correct before retrying.
func IsTerminal(err error) bool {
	var use catalog.UnknownStageError
	var ite InvalidTransitionError
	return errors.As(err, &use) || errors.As(err, &ite)
}
