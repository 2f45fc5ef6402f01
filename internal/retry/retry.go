// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry implements the bounded exponential-backoff policy applied
// to transient request failures.
//
// A logical call makes at most 1+MaxRetries attempts. The delay before
// attempt i (i >= 2) is BaseDelay * 2^(i-2): with the defaults that is 1s
// before the second attempt and 2s before the third.
package retry

import (
	"context"
	"time"

	"github.com/jeranaias/agentchat/internal/apierr"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy decides whether and when a failed call is retried.
// The zero value is usable and applies the defaults.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Negative disables retrying.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// ShouldRetry classifies errors. Defaults to apierr.IsRetryable.
	ShouldRetry func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep SleepFunc
	// OnRetry is called before each backoff with the attempt about to run,
	// the delay and the error that caused the retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the standard policy: two retries, 1s base delay.
func Default() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// None returns a policy that never retries.
func None() Policy {
	return Policy{MaxRetries: -1}
}

func (p Policy) maxRetries() int {
	switch {
	case p.MaxRetries < 0:
		return 0
	case p.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// MaxAttempts returns the total number of attempts, including the first.
func (p Policy) MaxAttempts() int {
	return 1 + p.maxRetries()
}

// Delay returns the backoff before the given attempt number (1-based).
// Attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base * time.Duration(1<<uint(attempt-2))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned unchanged. If ctx is
// done during a backoff, the previous attempt's error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = apierr.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	maxAttempts := p.MaxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
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
