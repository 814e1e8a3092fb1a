// Package ratelimit implements a sliding-window event counter: not a token
// bucket, a simple count of events that fell inside the trailing window of
// length D. Any component that needs to know "how many things happened
// recently, and how long until one falls out of the window" can depend on
// this directly — the queue scheduler is one user, not the only one.
package ratelimit

import (
	"sync"
	"time"
)

type event struct {
	at    time.Time
	count int
}

// Limiter maintains an ordered sequence of (timestamp, count) events within
// a sliding window. Zero value is not usable; use New.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxRate int
	events  []event

	now func() time.Time // seam for tests
}

// New returns a Limiter with the given window and max event count permitted
// inside that window
func New(window time.Duration, maxRate int) *Limiter {
	return &Limiter{window: window, maxRate: maxRate, now: time.Now}
}

// evict drops events older than now-window. Must be called with mu held.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.events) && !l.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.events = l.events[i:]
	}
}

// AddEvent appends a (now, n) event after evicting events older than now-window
func (l *Limiter) AddEvent(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.events = append(l.events, event{at: now, count: n})
}

// EventCount returns the sum of counts whose timestamps lie in (now-window, now]
func (l *Limiter) EventCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	total := 0
	for _, e := range l.events {
		total += e.count
	}
	return total
}

// WaitTime returns 0 if EventCount < MaxRate, otherwise the duration until
// the oldest in-window event whose eviction would bring the count strictly
// below MaxRate; if no such point exists within the window, it returns the
// full window length D.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)

	total := 0
	for _, e := range l.events {
		total += e.count
	}
	if total < l.maxRate {
		return 0
	}

	// Walk events oldest-first, accumulating how much would be evicted once
	// that event falls out of the window; stop at the point the remaining
	// count would drop strictly below MaxRate.
	remaining := total
	for _, e := range l.events {
		remaining -= e.count
		if remaining < l.maxRate {
			wait := e.at.Add(l.window).Sub(now)
			if wait < 0 {
				wait = 0
			}
			return wait
		}
	}
	return l.window
}

// MaxRate returns the configured max event count for the window
func (l *Limiter) MaxRate() int { return l.maxRate }

// Window returns the configured sliding window length
func (l *Limiter) Window() time.Duration { return l.window }
