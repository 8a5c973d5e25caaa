// Package backoff describes bounded retry schedules shared by the fetcher and
// the crawl orchestrator.
package backoff

import (
	"math"
	"time"
)

// Policy is an exponential schedule: the wait before retry n (0-based) is
// Base * Multiplier^n, capped at Cap when Cap is positive.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
}

// Delay returns the wait that follows the given 0-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.Base) * math.Pow(mult, float64(attempt))
	if p.Cap > 0 && delay > float64(p.Cap) {
		return p.Cap
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Attempts returns MaxAttempts, never less than one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// HasNext reports whether another attempt is allowed after the given
// 0-based attempt.
func (p Policy) HasNext(attempt int) bool {
	return attempt+1 < p.Attempts()
}
