package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestPreRequestDelayFromHeaders(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "5") // delta seconds
	s.UpdateFromHeaders(h, now)

	d := s.preRequestDelay(now)
	if d <= 0 {
		t.Errorf("preRequestDelay = %v, want > 0 when remaining=0 and reset in future", d)
	}
}

func TestPreRequestDelayZeroWhenNotExhausted(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "50")
	h.Set("X-RateLimit-Reset", "5")
	s.UpdateFromHeaders(h, now)

	if d := s.preRequestDelay(now); d != 0 {
		t.Errorf("preRequestDelay = %v, want 0", d)
	}
}

func TestResetHeaderEpochVsDelta(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()

	// Delta-seconds form.
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "10")
	s.UpdateFromHeaders(h, now)
	if *s.resetAtMs < now.UnixMilli() {
		t.Errorf("delta-seconds reset should be in the future")
	}

	// Epoch-seconds form (> 1e9).
	epochSecs := now.Add(20 * time.Second).Unix()
	h2 := http.Header{}
	h2.Set("X-RateLimit-Remaining", "0")
	h2.Set("X-RateLimit-Reset", itoa(epochSecs))
	s.UpdateFromHeaders(h2, now)
	wantMs := epochSecs * 1000
	if *s.resetAtMs != wantMs {
		t.Errorf("resetAtMs = %d, want %d", *s.resetAtMs, wantMs)
	}
}

func TestAdaptiveDelayGrowsDedupesDecays(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Now()

	s.record429At(now)
	first := s.AdaptiveDelayMs()
	if first < minAdaptiveMs {
		t.Errorf("after first 429, adaptiveDelayMs = %v, want >= %v", first, minAdaptiveMs)
	}

	// Second 429 inside the dedup window must not increase the delay.
	s.record429At(now.Add(500 * time.Millisecond))
	second := s.AdaptiveDelayMs()
	if second != first {
		t.Errorf("second 429 within dedup window changed delay: %v -> %v", first, second)
	}
	if s.Consecutive429s() != 1 {
		t.Errorf("consecutive429s = %d, want 1 (second 429 deduped)", s.Consecutive429s())
	}

	s.RecordSuccess()
	if got := s.AdaptiveDelayMs(); got >= second {
		t.Errorf("after success, adaptiveDelayMs = %v, want < %v", got, second)
	}
	if s.Consecutive429s() != 0 {
		t.Errorf("consecutive429s after success = %d, want 0", s.Consecutive429s())
	}
}

// record429At is a test-only helper calling Record429 with an explicit time.
func (s *State) record429At(t time.Time) { s.Record429(t) }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
