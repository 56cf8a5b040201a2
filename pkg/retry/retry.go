package retry

import (
	"context"
	"time"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// Policy controls Do.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	Backoff *BackoffConfig

	// ShouldRetry decides whether err is transient. Nil uses
	// scanerrors.IsRetryable.
	ShouldRetry func(err error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy returns three attempts with the default backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoffConfig(),
	}
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts
// are exhausted, or ctx is done. The last error from fn is returned; if ctx
// ends during a wait, ctx.Err() is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultBackoffConfig()
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = scanerrors.IsRetryable
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || !shouldRetry(err) || ctx.Err() != nil {
			return err
		}

		wait := backoff.Interval(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
