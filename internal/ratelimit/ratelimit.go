// Package ratelimit provides a per-connection sliding-window limiter so a
// single connection cannot flood the hub.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultEvents = 120
	DefaultWindow = 10 * time.Second
)

// Limiter allows at most limit events per sliding window. It keeps the
// permit times of the last limit events in a fixed-size ring: admitting or
// denying an event touches at most a handful of slots, so cost stays
// constant no matter how hard a peer hammers the connection.
type Limiter struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int // oldest live permit
	used   int // live permits in the ring
	limit  int
	window time.Duration
}

// New constructs a Limiter, falling back to package defaults for
// non-positive inputs.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultEvents
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		stamps: make([]time.Time, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time now should be permitted. Permits
// whose age exceeds the window are retired from the head of the ring; the
// event is denied only while all limit slots hold permits still inside the
// window.
func (l *Limiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	for l.used > 0 && !l.stamps[l.head].After(cut) {
		l.head = (l.head + 1) % l.limit
		l.used--
	}

	if l.used == l.limit {
		return false
	}
	l.stamps[(l.head+l.used)%l.limit] = now
	l.used++
	return true
}
