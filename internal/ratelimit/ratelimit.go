// ABOUTME: Window-based rate limiter keyed by (connection, action)
// ABOUTME: Rejections are expected backpressure, not errors

package ratelimit

import (
	"sync"
	"time"
)

// Action identifies a rate-limited action kind.
type Action string

// High-frequency actions guarded by the limiter.
const (
	ActionMessage Action = "message"
	ActionTyping  Action = "typing"
)

// Rule bounds an action to Max occurrences per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// DefaultRules are the limits applied when config leaves them unset.
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionMessage: {Max: 10, Window: time.Minute},
		ActionTyping:  {Max: 5, Window: time.Second},
	}
}

type windowKey struct {
	key    string
	action Action
}

type window struct {
	start time.Time
	count int
}

// Limiter counts actions per (key, action) within a rolling window. Once the
// window elapses the count resets and the window restarts. Actions with no
// configured rule are always allowed.
type Limiter struct {
	mu      sync.Mutex
	rules   map[Action]Rule
	windows map[windowKey]*window

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter with the given per-action rules.
func New(rules map[Action]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		windows: make(map[windowKey]*window),
		now:     time.Now,
	}
}

// Allow records an attempt and reports whether it is within the limit.
// The check and increment are a single atomic step, so a rejected attempt
// still counts against the window.
func (l *Limiter) Allow(key string, action Action) bool {
	rule, ok := l.rules[action]
	if !ok || rule.Max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := windowKey{key: key, action: action}
	now := l.now()
	w := l.windows[k]
	if w == nil || now.Sub(w.start) >= rule.Window {
		w = &window{start: now}
		l.windows[k] = w
	}

	w.count++
	return w.count <= rule.Max
}

// Forget drops all windows for a key. Called on disconnect so stale windows
// do not accumulate.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.windows {
		if k.key == key {
			delete(l.windows, k)
		}
	}
}
