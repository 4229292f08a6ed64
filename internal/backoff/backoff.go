// Package backoff provides exponential-backoff reconnect retry for
// sqlpool's optional remote driver. The pool core never retries
// synchronously on the hot path (a failed Acquire connect simply returns
// the factory's error), so this package lives entirely in drivers/remote's
// dial path, not in pkg/sqlpool.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Options configures a Strategy.
type Options struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryableErrors   []string
}

var defaultRetryableErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"i/o timeout",
	"EOF",
	"broken pipe",
}

// Strategy runs a dial function with exponential backoff and jitter.
type Strategy struct {
	options Options
}

// NewStrategy builds a Strategy, defaulting any zero-valued Options field.
func NewStrategy(opts *Options) *Strategy {
	if opts == nil {
		opts = &Options{}
	}
	r := *opts
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = 1 * time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	if len(r.RetryableErrors) == 0 {
		r.RetryableErrors = defaultRetryableErrors
	}
	return &Strategy{options: r}
}

// IsRetryable reports whether err's message matches one of the
// strategy's retryable substrings.
func (s *Strategy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range s.options.RetryableErrors {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Delay returns the backoff delay for the given zero-based attempt, capped
// at MaxDelay.
func (s *Strategy) Delay(attempt int) time.Duration {
	delay := float64(s.options.InitialDelay) * math.Pow(s.options.BackoffMultiplier, float64(attempt))
	if time.Duration(delay) > s.options.MaxDelay {
		return s.options.MaxDelay
	}
	return time.Duration(delay)
}

// jitter adds up to 30% random jitter to delay to avoid thundering-herd
// reconnects across many pool members dialing at once.
func jitter(delay time.Duration) time.Duration {
	return delay + time.Duration(rand.Float64()*0.3*float64(delay))
}

// Dial retries fn with exponential backoff until it succeeds, a non
// -retryable error is returned, attempts are exhausted, or ctx is done.
func (s *Strategy) Dial(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < s.options.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !s.IsRetryable(err) {
			return err
		}
		if attempt == s.options.MaxAttempts-1 {
			return fmt.Errorf("backoff: failed after %d attempts: %w", s.options.MaxAttempts, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(s.Delay(attempt))):
		}
	}

	return lastErr
}
