package fetch

import (
	"context"
	"time"

	zbdebug "github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// RetryPolicy bounds retries of a failed read. The delay before attempt
// n+1 is InitialBackoff doubled n-1 times, capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns 4 attempts backing off 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff || d <= 0 {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// withRetry calls fn until it succeeds, fails with a non-retryable error,
// or the policy's attempts run out.
func (s *Scheduler) withRetry(ctx context.Context, src Source, fn func(context.Context) error) (int, error) {
	policy := s.cfg.Retry
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !upstream.Retryable(err) || attempt >= policy.MaxAttempts {
			return attempt, err
		}

		delay := policy.Backoff(attempt)
		s.log.Event(zbdebug.LevelDebug, "retry", map[string]any{
			"source":   string(src),
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err,
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
