package client

import (
	"context"
	"time"

	"github.com/torosent/leash/internal/reqtemplate"
)

// RetryPolicy configures how Do re-issues failed requests.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, only status 0 failures are retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// Do issues tpl and re-issues it while the policy allows. Status 0 failures
// (aborted or severed connections) first wait for the environment to become
// visible again.
func (c *Client) Do(ctx context.Context, tpl reqtemplate.Template, policy RetryPolicy) (*Response, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = isRestartable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := c.Fetch(ctx, tpl)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Don't wait after the last attempt.
		if attempt == attempts || !shouldRetry(err) {
			return nil, err
		}
		if isRestartable(err) {
			if werr := c.RestartWhenAvailable(ctx, err); werr != nil {
				return nil, werr
			}
		}

		var delay time.Duration
		if policy.DelayFunc != nil {
			delay = policy.DelayFunc(attempt, err)
		} else {
			delay = policy.Delay
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c.logger.Debug("retrying request", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func isRestartable(err error) bool {
	status, ok := StatusCode(err)
	return ok && status == 0
}
