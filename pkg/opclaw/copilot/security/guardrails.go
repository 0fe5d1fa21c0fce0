package security

import (
	"fmt"
	"sync"
	"time"
)

// InputGuardrail validates operator utterances before they reach the model.
type InputGuardrail struct {
	maxLength   int
	rateLimiter *RateLimiter
}

// NewInputGuardrail creates an input guardrail. Non-positive values fall back
// to 4000 characters and 30 messages per minute.
func NewInputGuardrail(maxLength, ratePerMinute int) *InputGuardrail {
	if maxLength <= 0 {
		maxLength = 4000
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &InputGuardrail{
		maxLength:   maxLength,
		rateLimiter: NewRateLimiter(ratePerMinute, time.Minute),
	}
}

// Validate checks length first, then the per-user rate.
func (g *InputGuardrail) Validate(userID, input string) error {
	if len([]rune(input)) > g.maxLength {
		return ErrInputTooLong
	}
	if !g.rateLimiter.Allow(userID) {
		return ErrRateLimited
	}
	return nil
}

// RateLimiter is a per-user sliding window limiter.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	now         func() time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a request and reports whether it is within the limit.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	timestamps := rl.requests[userID]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.maxRequests {
		rl.requests[userID] = valid
		return false
	}
	rl.requests[userID] = append(valid, now)
	return true
}

// Errors.
var (
	ErrInputTooLong = fmt.Errorf("message exceeds the maximum allowed length")
	ErrRateLimited  = fmt.Errorf("too many messages per minute, wait a moment")
)
