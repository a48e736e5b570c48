package lockout

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

var t0 = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

func TestPolicy_LocksAtThreshold(t *testing.T) {
	p := NewPolicy(5, 15*time.Minute)
	var c models.Counters

	for i := 1; i <= 4; i++ {
		out := p.Evaluate(c, false, t0)
		assert.False(t, out.Allowed)
		assert.False(t, out.LockedNow)
		assert.Equal(t, i, out.Counters.FailedAttempts)
		assert.Nil(t, out.Counters.LockedUntil)
		c = out.Counters
	}

	out := p.Evaluate(c, false, t0)
	assert.True(t, out.LockedNow)
	require.NotNil(t, out.Counters.LockedUntil)
	assert.Equal(t, t0.Add(15*time.Minute), *out.Counters.LockedUntil)
	c = out.Counters

	// correct password while locked is still rejected
	assert.True(t, errors.Is(p.Check(c, t0.Add(time.Minute)), apierr.ErrAccountLocked))
	out = p.Evaluate(c, true, t0.Add(time.Minute))
	assert.False(t, out.Allowed)
	assert.Equal(t, c, out.Counters)
}

func TestPolicy_ExpiredLockIsUnlocked(t *testing.T) {
	p := NewPolicy(5, 15*time.Minute)
	until := t0.Add(15 * time.Minute)
	c := models.Counters{FailedAttempts: 5, LockedUntil: &until}

	after := until.Add(time.Second)
	assert.NoError(t, p.Check(c, after))

	out := p.Evaluate(c, true, after)
	assert.True(t, out.Allowed)
	assert.Zero(t, out.Counters.FailedAttempts)
	assert.Nil(t, out.Counters.LockedUntil)
	require.NotNil(t, out.Counters.LastLoginAt)
	assert.Equal(t, after, *out.Counters.LastLoginAt)
}

func TestPolicy_FailureAfterExpiredLockRestartsCount(t *testing.T) {
	p := NewPolicy(5, 15*time.Minute)
	until := t0
	c := models.Counters{FailedAttempts: 5, LockedUntil: &until}

	out := p.Evaluate(c, false, t0.Add(time.Minute))
	assert.Equal(t, 1, out.Counters.FailedAttempts)
	assert.Nil(t, out.Counters.LockedUntil)
	assert.False(t, out.LockedNow)
}

func TestPolicy_SuccessResetsCounter(t *testing.T) {
	p := NewPolicy(5, 15*time.Minute)
	c := models.Counters{FailedAttempts: 3}

	out := p.Evaluate(c, true, t0)
	assert.True(t, out.Allowed)
	assert.Zero(t, out.Counters.FailedAttempts)
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, DefaultThreshold, p.Threshold)
	assert.Equal(t, DefaultDuration, p.Duration)
}
