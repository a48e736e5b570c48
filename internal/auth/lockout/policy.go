package lockout

import (
	"time"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// Policy decides lock transitions from an account's counters. It holds no
// state of its own; the store persists whatever Evaluate returns.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

func NewPolicy(threshold int, duration time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Policy{Threshold: threshold, Duration: duration}
}

// Outcome is the result of evaluating one verification attempt.
type Outcome struct {
	Counters  models.Counters
	Allowed   bool
	LockedNow bool
}

// Locked reports whether c is inside an active lock window at now.
func (p Policy) Locked(c models.Counters, now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// Check returns ErrAccountLocked while the lock window is open. It must be
// called before any password verification.
func (p Policy) Check(c models.Counters, now time.Time) error {
	if p.Locked(c, now) {
		return apierr.ErrAccountLocked
	}
	return nil
}

// Evaluate computes the next counters after a verification whose result is
// matched. An expired lock is treated as unlocked and the count restarts.
func (p Policy) Evaluate(c models.Counters, matched bool, now time.Time) Outcome {
	if p.Locked(c, now) {
		return Outcome{Counters: c}
	}

	next := c
	if c.LockedUntil != nil {
		next.FailedAttempts = 0
		next.LockedUntil = nil
	}

	if matched {
		ts := now
		next.FailedAttempts = 0
		next.LockedUntil = nil
		next.LastLoginAt = &ts
		return Outcome{Counters: next, Allowed: true}
	}

	next.FailedAttempts++
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
		return Outcome{Counters: next, LockedNow: true}
	}

	return Outcome{Counters: next}
}
