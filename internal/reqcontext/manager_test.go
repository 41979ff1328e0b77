package reqcontext

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateWaitComplete(t *testing.T) {
	m := New("agent-1", 0, nil)

	entry, err := m.Create("action", map[string]any{"action": "move"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Status() != StatusPending {
		t.Fatalf("expected pending, got %v", entry.Status())
	}

	done := make(chan struct{})
	var value any
	var waitErr error
	go func() {
		value, waitErr = m.Wait(context.Background(), entry.RequestID)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if !m.Complete(entry.RequestID, map[string]any{"ok": true}) {
		t.Fatalf("complete should succeed on a pending entry")
	}

	<-done
	if waitErr != nil {
		t.Fatalf("wait returned error: %v", waitErr)
	}
	result, ok := value.(map[string]any)
	if !ok || result["ok"] != true {
		t.Fatalf("unexpected wait result: %+v", value)
	}

	stats := m.Stats()
	if stats.TotalRequests != 1 || stats.CompletedRequests != 1 || stats.PendingRequests != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestWaitTimesOut(t *testing.T) {
	m := New("agent-1", 0, nil)

	entry, err := m.Create("action", nil, WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = m.Wait(context.Background(), entry.RequestID)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if entry.Status() != StatusTimeout {
		t.Fatalf("expected timeout status, got %v", entry.Status())
	}

	stats := m.Stats()
	if stats.TimeoutRequests != 1 {
		t.Fatalf("expected one timeout recorded, got %+v", stats)
	}
}

// A Complete call that loses the race against an already-expired entry must
// be a no-op: the waiter already observed ErrTimeout and must never also
// see a completion value.
func TestCompleteAfterTimeoutIsNoOp(t *testing.T) {
	m := New("agent-1", 0, nil)

	entry, err := m.Create("action", nil, WithTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = m.Wait(context.Background(), entry.RequestID)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if m.Complete(entry.RequestID, "late") {
		t.Fatalf("complete after timeout should report failure")
	}
	if entry.Status() != StatusTimeout {
		t.Fatalf("status must remain timeout, got %v", entry.Status())
	}
}

func TestErrorResolvesWaiter(t *testing.T) {
	m := New("agent-1", 0, nil)
	entry, err := m.Create("event", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cause := errors.New("boom")
	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Error(entry.RequestID, cause)
	}()

	_, waitErr := m.Wait(context.Background(), entry.RequestID)
	if !errors.Is(waitErr, cause) {
		t.Fatalf("expected wrapped cause, got %v", waitErr)
	}

	stats := m.Stats()
	if stats.ErrorRequests != 1 {
		t.Fatalf("expected one error recorded, got %+v", stats)
	}
}

// Multiple goroutines waiting on the same request id must all observe the
// same outcome exactly once, with no duplicate counter increments.
func TestConcurrentWaitersSameOutcome(t *testing.T) {
	m := New("agent-1", 0, nil)
	entry, err := m.Create("action", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]any, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Wait(context.Background(), entry.RequestID)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	m.Complete(entry.RequestID, "done")
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d got error: %v", i, errs[i])
		}
		if results[i] != "done" {
			t.Fatalf("waiter %d got %v, want %q", i, results[i], "done")
		}
	}

	if m.Stats().CompletedRequests != 1 {
		t.Fatalf("expected exactly one completion recorded")
	}
}

func TestByTypeAndPendingAndRemove(t *testing.T) {
	m := New("agent-1", time.Second, nil)

	a, _ := m.Create("action", nil)
	e, _ := m.Create("event", nil)

	if got := m.ByType("action"); len(got) != 1 || got[0].RequestID != a.RequestID {
		t.Fatalf("ByType(action) = %v", got)
	}
	if got := m.Pending(); len(got) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(got))
	}

	m.Complete(a.RequestID, "ok")
	if got := m.Pending(); len(got) != 1 || got[0].RequestID != e.RequestID {
		t.Fatalf("expected only the event entry pending, got %v", got)
	}

	if !m.Remove(a.RequestID) {
		t.Fatalf("expected remove to succeed")
	}
	if _, ok := m.Get(a.RequestID); ok {
		t.Fatalf("expected entry to be gone after remove")
	}
	if m.Remove(a.RequestID) {
		t.Fatalf("second remove should report false")
	}
}

func TestWaitUnknownRequestID(t *testing.T) {
	m := New("agent-1", time.Second, nil)
	if _, err := m.Wait(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepRemovesStaleTerminalEntries(t *testing.T) {
	m := New("agent-1", time.Second, nil)
	entry, _ := m.Create("action", nil)
	m.Complete(entry.RequestID, "ok")

	// Force the entry to look old enough to be swept without sleeping for
	// the real five-minute retention window.
	entry.mu.Lock()
	entry.completedAt = time.Now().Add(-(retention + time.Second))
	entry.CreatedAt = entry.completedAt.Add(-time.Millisecond)
	entry.mu.Unlock()

	m.sweep()

	if _, ok := m.Get(entry.RequestID); ok {
		t.Fatalf("expected stale terminal entry to be swept")
	}
}
