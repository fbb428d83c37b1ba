// Package retry implements the exponential-backoff retry wrapper shared by
// the events source and the stream-credential manager, classifying
// failures per the spec's transport/server/rate-limit/client-error taxonomy.
package retry

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Config controls retry attempts and backoff bounds.
type Config struct {
	MaxAttempts int           // default 8
	BaseDelay   time.Duration // default 250ms
	MaxDelay    time.Duration // default 15s
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 15 * time.Second}
}

// Do invokes fn, retrying retry-eligible failures with exponential backoff
// plus jitter (for 5xx/network failures) until cfg.MaxAttempts is reached
// or fn succeeds. retryAfter, when non-nil, overrides the computed delay
// for the next attempt (used for 429 responses carrying Retry-After).
func Do(ctx context.Context, cfg Config, retryAfter func(err error) (time.Duration, bool), fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 15 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Classify(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt, lastErr)
		if retryAfter != nil {
			if d, ok := retryAfter(lastErr); ok {
				delay = d
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoffDelay computes attempt k's base delay with 30% jitter for 5xx and
// network failures, clamped to cfg.MaxDelay.
func backoffDelay(cfg Config, attempt int, err error) time.Duration {
	base := float64(cfg.BaseDelay) * float64(uint64(1)<<uint(attempt-1))

	status := StatusOf(err)
	if status == 0 || status >= 500 {
		jitter := base * 0.3 * (rand.Float64()*2 - 1) // +/-30%
		base += jitter
	}

	d := time.Duration(base)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ParseRetryAfter parses an HTTP Retry-After header value: delta-seconds
// when a positive integer, else an HTTP-date with a positive future delta,
// else none.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
		return 0, false
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	delta := t.Sub(now)
	if delta <= 0 {
		return 0, false
	}
	return delta, true
}
