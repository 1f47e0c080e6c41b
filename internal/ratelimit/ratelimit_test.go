// ABOUTME: Tests for the window-based rate limiter.
// ABOUTME: Covers limit enforcement, window restart, and per-key isolation.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the limiter's notion of time.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter(rules map[Action]Rule) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(rules)
	l.now = func() time.Time { return clock.now }
	return l, clock
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(map[Action]Rule{ActionMessage: {Max: 10, Window: time.Minute}})

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("conn-a", ActionMessage), "attempt %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("conn-a", ActionMessage), "11th attempt should be rejected")
}

func TestLimiter_WindowRestart(t *testing.T) {
	l, clock := newTestLimiter(map[Action]Rule{ActionTyping: {Max: 5, Window: time.Second}})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("conn-a", ActionTyping))
	}
	assert.False(t, l.Allow("conn-a", ActionTyping))

	clock.advance(time.Second)

	// A fresh window starts with a full allowance.
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("conn-a", ActionTyping), "attempt %d after window restart", i+1)
	}
	assert.False(t, l.Allow("conn-a", ActionTyping))
}

func TestLimiter_RejectedAttemptDoesNotExtendWindow(t *testing.T) {
	l, clock := newTestLimiter(map[Action]Rule{ActionMessage: {Max: 1, Window: time.Minute}})

	assert.True(t, l.Allow("conn-a", ActionMessage))
	clock.advance(30 * time.Second)
	assert.False(t, l.Allow("conn-a", ActionMessage))

	// The window is anchored at the first attempt, not the rejection.
	clock.advance(30 * time.Second)
	assert.True(t, l.Allow("conn-a", ActionMessage))
}

func TestLimiter_KeysIsolated(t *testing.T) {
	l, _ := newTestLimiter(map[Action]Rule{ActionMessage: {Max: 1, Window: time.Minute}})

	assert.True(t, l.Allow("conn-a", ActionMessage))
	assert.False(t, l.Allow("conn-a", ActionMessage))
	assert.True(t, l.Allow("conn-b", ActionMessage))
}

func TestLimiter_ActionsIsolated(t *testing.T) {
	l, _ := newTestLimiter(DefaultRules())

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("conn-a", ActionMessage))
	}
	assert.False(t, l.Allow("conn-a", ActionMessage))
	assert.True(t, l.Allow("conn-a", ActionTyping))
}

func TestLimiter_UnconfiguredActionAlwaysAllowed(t *testing.T) {
	l, _ := newTestLimiter(map[Action]Rule{})

	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("conn-a", ActionMessage))
	}
}

func TestLimiter_Forget(t *testing.T) {
	l, _ := newTestLimiter(map[Action]Rule{ActionMessage: {Max: 1, Window: time.Minute}})

	assert.True(t, l.Allow("conn-a", ActionMessage))
	assert.False(t, l.Allow("conn-a", ActionMessage))

	l.Forget("conn-a")

	assert.True(t, l.Allow("conn-a", ActionMessage))
}
