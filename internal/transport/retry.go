package transport

import (
	"context"
	"time"
)

// retryPolicy decides whether another attempt is made. Delays are fixed; there
// is no exponential growth and attempts never overlap.
type retryPolicy struct {
	attempts int
	delay    time.Duration
	statuses map[int]struct{}
}

func newRetryPolicy(cfg Config) retryPolicy {
	statuses := make(map[int]struct{}, len(cfg.RetryStatusCodes))
	for _, code := range cfg.RetryStatusCodes {
		statuses[code] = struct{}{}
	}
	return retryPolicy{
		attempts: cfg.Retries,
		delay:    cfg.RetryDelay,
		statuses: statuses,
	}
}

func (p retryPolicy) retryableStatus(code int) bool {
	_, ok := p.statuses[code]
	return ok
}

// exhausted reports whether attempt (1-based) was the last one allowed.
func (p retryPolicy) exhausted(attempt int) bool {
	return attempt >= p.attempts
}

func (p retryPolicy) wait(ctx context.Context) error {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
