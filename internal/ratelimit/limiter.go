// Package ratelimit implements the fixed-window counters used to throttle
// chat messages and location updates per connection.
//
// A window starts on the first admitted action for a key and lasts for the
// policy's window size. Inside a window at most Max actions are admitted;
// once the window has expired the next check starts a fresh one.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Policy is an allowance of Max actions per Window.
type Policy struct {
	Max    int
	Window time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks one window per subject key. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MessageKey is the subject key for a connection's chat messages.
func MessageKey(connID string) string {
	return connID
}

// ActionKey is the subject key for one named action of a connection.
func ActionKey(connID, action string) string {
	return connID + "-" + action
}

// Allow reports whether another action for key fits in its current window,
// counting it if so. Denied actions are not counted.
func (l *Limiter) Allow(key string, limit int, size time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(size)}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// AllowPolicy is Allow with the limits taken from p.
func (l *Limiter) AllowPolicy(key string, p Policy) bool {
	return l.Allow(key, p.Max, p.Window)
}

// Sweep drops windows that expired more than grace ago and returns how many
// were removed.
func (l *Limiter) Sweep(grace time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt.Add(grace)) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Purge removes every window belonging to connID.
func (l *Limiter) Purge(connID string) {
	prefix := connID + "-"

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, MessageKey(connID))
	for key := range l.windows {
		if strings.HasPrefix(key, prefix) {
			delete(l.windows, key)
		}
	}
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
