// Package retry is the single backoff utility used by the fetcher, the
// orchestrator, the record sink and the migrator.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is doubled after every failed attempt.
	BaseDelay time.Duration
	// MaxCooldowns caps cool-down waits requested through Cooldown. Zero
	// means MaxAttempts.
	MaxCooldowns int
	// Retryable decides whether a plain error is worth another attempt.
	// Nil retries everything that is not Permanent.
	Retryable func(error) bool
	Logger    *slog.Logger
	Name      string
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// CooldownError asks the loop to wait a fixed duration without spending a
// regular attempt.
type CooldownError struct {
	Wait time.Duration
	Err  error
}

func (c *CooldownError) Error() string { return c.Err.Error() }
func (c *CooldownError) Unwrap() error { return c.Err }

// Cooldown wraps err so the loop sleeps wait before trying again.
func Cooldown(err error, wait time.Duration) error {
	return &CooldownError{Wait: wait, Err: err}
}

// Backoff returns base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<uint(attempt))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. fn receives the zero-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	maxCooldowns := p.MaxCooldowns
	if maxCooldowns <= 0 {
		maxCooldowns = maxAttempts
	}

	var (
		lastErr   error
		attempt   int
		cooldowns int
	)
	for attempt < maxAttempts {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}

		var wait time.Duration
		var cd *CooldownError
		if errors.As(err, &cd) {
			cooldowns++
			if cooldowns > maxCooldowns {
				return fmt.Errorf("cool-down limit %d reached: %w", maxCooldowns, err)
			}
			wait = cd.Wait
		} else {
			if p.Retryable != nil && !p.Retryable(err) {
				return err
			}
			attempt++
			if attempt >= maxAttempts {
				break
			}
			wait = Backoff(p.BaseDelay, attempt-1)
		}

		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying",
				"op", p.Name,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"cooldowns", cooldowns,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
		}
		if err := Sleep(ctx, wait); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
