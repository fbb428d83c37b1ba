// Package ratelimit implements the shared, header-driven + adaptive rate
// limiter consulted by every worker before issuing a page fetch. All state
// lives behind one mutex, mirroring the teacher's single-monitor Limiter.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	dedupeWindow  = 2 * time.Second
	minAdaptiveMs = 1000
	maxAdaptiveMs = 8000
	adaptiveGrow  = 1.3
	adaptiveDecay = 0.5
	snapBelowMs   = 100
	headerBuffer  = 100 * time.Millisecond

	// defaultFloorRPS paces the shared limiter before any header has been
	// observed; updated as soon as X-RateLimit-Limit arrives.
	defaultFloorRPS = 5.0
)

// State is the rate limiter's shared mutable state. Safe for concurrent use.
type State struct {
	mu sync.Mutex

	remaining       *int64
	limit           *int64
	resetAtMs       *int64
	adaptiveDelayMs float64
	consecutive429s int
	last429At       time.Time

	// floor is a token-bucket pacer derived from the server's advertised
	// per-minute limit; it smooths steady-state traffic while the
	// header/429-derived delay below absorbs bursts near exhaustion.
	floor *rate.Limiter
}

// New creates a State with an initial conservative floor rate.
func New() *State {
	return &State{floor: rate.NewLimiter(rate.Limit(defaultFloorRPS), 1)}
}

// Wait blocks for the pre-request delay: first the smoothed floor rate,
// then max(header-derived wait, adaptive delay).
func (s *State) Wait(ctx context.Context) error {
	if err := s.floor.Wait(ctx); err != nil {
		return err
	}

	d := s.preRequestDelay(time.Now())
	if d <= 0 {
		return nil
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

// preRequestDelay computes max(header-derived wait, adaptiveDelay).
func (s *State) preRequestDelay(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var headerWait time.Duration
	if s.remaining != nil && *s.remaining <= 1 && s.resetAtMs != nil {
		resetAt := time.UnixMilli(*s.resetAtMs)
		if resetAt.After(now) {
			headerWait = resetAt.Sub(now) + headerBuffer
		}
	}

	adaptive := time.Duration(s.adaptiveDelayMs) * time.Millisecond
	if adaptive > headerWait {
		return adaptive
	}
	return headerWait
}

// UpdateFromHeaders updates remaining/limit/reset from the server's
// response headers, interpreting X-RateLimit-Reset per the spec's rule:
// values greater than 1e9 are an epoch-seconds timestamp, else a delta in
// seconds from now.
func (s *State) UpdateFromHeaders(h http.Header, now time.Time) {
	remaining, hasRemaining := parseInt64(h.Get("X-RateLimit-Remaining"))
	limit, hasLimit := parseInt64(h.Get("X-RateLimit-Limit"))
	reset, hasReset := parseInt64(h.Get("X-RateLimit-Reset"))

	s.mu.Lock()
	defer s.mu.Unlock()

	if hasRemaining {
		s.remaining = &remaining
	}
	if hasLimit {
		s.limit = &limit
		if limit > 0 {
			s.floor.SetLimit(rate.Limit(float64(limit) / 60.0))
		}
	}
	if hasReset {
		var resetAtMs int64
		if reset > 1_000_000_000 {
			resetAtMs = reset * 1000
		} else {
			resetAtMs = now.UnixMilli() + reset*1000
		}
		s.resetAtMs = &resetAtMs
	}
}

// Record429 applies the dedup window, then grows the adaptive delay and
// increments the consecutive-429 counter.
func (s *State) Record429(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.last429At.IsZero() && now.Sub(s.last429At) < dedupeWindow {
		return
	}
	s.last429At = now
	s.consecutive429s++

	next := s.adaptiveDelayMs * adaptiveGrow
	if next < minAdaptiveMs {
		next = minAdaptiveMs
	}
	if next > maxAdaptiveMs {
		next = maxAdaptiveMs
	}
	s.adaptiveDelayMs = next
}

// RecordSuccess decays the adaptive delay and resets the consecutive counter.
func (s *State) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adaptiveDelayMs *= adaptiveDecay
	if s.adaptiveDelayMs < snapBelowMs {
		s.adaptiveDelayMs = 0
	}
	s.consecutive429s = 0
}

// AdaptiveDelayMs returns the current adaptive delay, for tests/metrics.
func (s *State) AdaptiveDelayMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adaptiveDelayMs
}

// Consecutive429s returns the current consecutive-429 count, for tests/metrics.
func (s *State) Consecutive429s() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive429s
}

func parseInt64(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
