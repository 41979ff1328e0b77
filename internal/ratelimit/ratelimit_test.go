package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Second)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !l.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if l.Allow(now) {
		t.Fatalf("4th event should be rejected")
	}
}

func TestAllowSlidingWindowRecovers(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	now := time.Now()
	if !l.Allow(now) {
		t.Fatalf("first event should be allowed")
	}
	if l.Allow(now) {
		t.Fatalf("second immediate event should be rejected")
	}
	if !l.Allow(now.Add(20 * time.Millisecond)) {
		t.Fatalf("event after window elapses should be allowed")
	}
}

// Sustained traffic at exactly the permitted rate must keep flowing as the
// ring wraps, with bursts above it still denied.
func TestAllowRingWrapsUnderSustainedTraffic(t *testing.T) {
	l := New(2, 100*time.Millisecond)
	now := time.Now()

	for i := 0; i < 10; i++ {
		tick := now.Add(time.Duration(i) * 60 * time.Millisecond)
		if !l.Allow(tick) {
			t.Fatalf("event %d at the permitted rate should be allowed", i)
		}
	}

	last := now.Add(9 * 60 * time.Millisecond)
	if l.Allow(last.Add(time.Millisecond)) {
		t.Fatalf("burst above the permitted rate should be denied")
	}
	if !l.Allow(last.Add(150 * time.Millisecond)) {
		t.Fatalf("event after the window drains should be allowed")
	}
}

func TestNewFallsBackToDefaults(t *testing.T) {
	l := New(0, 0)
	if l.limit != DefaultEvents || l.window != DefaultWindow {
		t.Fatalf("expected defaults, got limit=%d window=%v", l.limit, l.window)
	}
}
