// Package resilience provides the bounded-backoff retry used around
// connect_all: each node gets a few chances to come up before it is
// recorded as degraded, rather than failing the whole fleet connect on
// one slow boot.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/vedpanse/daemon/internal/errs"
)

// RetryConfig configures Retry's backoff schedule.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig matches connect_all's expectations: a handful of
// quick attempts, capped well under a human's patience for a CLI start.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry calls fn until it succeeds, ctx is done, or config.MaxAttempts is
// exhausted, sleeping an exponentially growing delay between attempts.
// When JitterEnabled, each delay is perturbed by up to +/-10% so that
// several nodes backing off at once don't all retry in lockstep.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	nextDelay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == config.MaxAttempts {
			break
		}

		wait := withJitter(nextDelay, config.JitterEnabled)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		nextDelay = time.Duration(float64(nextDelay) * config.BackoffFactor)
		if nextDelay > config.MaxDelay {
			nextDelay = config.MaxDelay
		}
	}

	return errs.Wrap("resilience.retry", "", errs.ErrRetryExhausted, lastErr)
}

// withJitter randomly perturbs delay by up to 10% in either direction,
// so a fleet of nodes backing off together spread their retries instead
// of thundering back in unison.
func withJitter(delay time.Duration, enabled bool) time.Duration {
	if !enabled || delay <= 0 {
		return delay
	}
	spread := float64(delay) * 0.1
	offset := (rand.Float64()*2 - 1) * spread
	return delay + time.Duration(offset)
}
