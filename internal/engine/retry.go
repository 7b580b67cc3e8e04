package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProcessTransitionWithRetry retries transient failures (template lookups,
// storage errors) with exponential backoff. Terminal validation errors and
// successful replays return immediately.
func (e Engine) ProcessTransitionWithRetry(ctx context.Context, opts TransitionOptions) (TransitionResult, error) {
	var res TransitionResult

	operation := func() error {
		var err error
		res, err = e.ProcessTransition(ctx, opts)
		if err == nil {
			return nil
		}
		if IsTerminal(err) || !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}
