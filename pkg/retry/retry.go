// Package retry runs calls under an exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

// Policy bounds attempts and backoff. Attempt n (0-based) waits
// BaseDelay*2^n, capped at MaxDelay, before attempt n+1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether an error deserves another attempt.
	// Nil means every error except adapter.IsPermanent ones.
	Retryable func(error) bool

	sleep func(context.Context, time.Duration) error
}

// DefaultPolicy is 3 attempts, 4s base, 10s cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
}

// FromConfig builds a policy from routing config values.
func FromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseBackoffMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return p
}

// WithSleep replaces the backoff sleeper. Tests use it to record delays.
func (p Policy) WithSleep(sleep func(context.Context, time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// AttemptError is returned after the last attempt fails.
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, the policy is exhausted, or the error is not
// retryable. logf may be nil.
func Do(ctx context.Context, p Policy, logf func(format string, args ...any), fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return !adapter.IsPermanent(err) }
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts-1 || !retryable(err) {
			return &AttemptError{Attempts: attempt + 1, Err: err}
		}

		backoff := Backoff(p.BaseDelay, p.MaxDelay, attempt)
		if logf != nil {
			logf("[retry] attempt %d/%d failed: %v (retrying in %s)", attempt+1, attempts, err, backoff)
		}
		if err := sleep(ctx, backoff); err != nil {
			return &AttemptError{Attempts: attempt + 1, Err: err}
		}
	}
	return &AttemptError{Attempts: attempts, Err: lastErr}
}

// Backoff returns the wait before the attempt following attempt (0-based).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// logger returns log.Printf when logf is nil.
func logger(logf func(format string, args ...any)) func(format string, args ...any) {
	if logf == nil {
		return log.Printf
	}
	return logf
}
