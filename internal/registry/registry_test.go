package registry

import (
	"testing"
	"time"

	"starhub/protocol"
)

type fakePeer struct {
	sent   []protocol.Envelope
	closed bool
	code   int
	reason string
	failOn error
}

func (p *fakePeer) Send(e protocol.Envelope) error {
	if p.failOn != nil {
		return p.failOn
	}
	p.sent = append(p.sent, e)
	return nil
}

func (p *fakePeer) Close(code int, reason string) error {
	p.closed = true
	p.code = code
	p.reason = reason
	return nil
}

func newTestConn(id string, kind protocol.ClientKind, envID string) *Connection {
	return NewConnection(id, protocol.ClientInfo{ClientID: id, ClientType: kind, EnvID: envID}, &fakePeer{})
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	c := newTestConn("a1", protocol.ClientAgent, "env1")

	if err := r.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, ok := r.Get("a1")
	if !ok || got != c {
		t.Fatalf("expected to get back the same connection")
	}

	if !r.Remove("a1") {
		t.Fatalf("expected remove to report present")
	}
	if _, ok := r.Get("a1"); ok {
		t.Fatalf("expected connection to be gone after remove")
	}
	if r.Remove("a1") {
		t.Fatalf("expected second remove to report absent")
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	r := New()
	c1 := newTestConn("a1", protocol.ClientAgent, "env1")
	c2 := newTestConn("a1", protocol.ClientAgent, "env1")

	if err := r.Add(c1); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	if err := r.Add(c2); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, ok := r.Get("a1"); !ok {
		t.Fatalf("first connection should remain registered")
	}
}

func TestIndexConsistency(t *testing.T) {
	r := New()
	conns := []*Connection{
		newTestConn("a1", protocol.ClientAgent, "env1"),
		newTestConn("a2", protocol.ClientAgent, "env1"),
		newTestConn("e1", protocol.ClientEnvironment, "env1"),
		newTestConn("h1", protocol.ClientHuman, ""),
	}
	for _, c := range conns {
		if err := r.Add(c); err != nil {
			t.Fatalf("add %s: %v", c.ID, err)
		}
	}

	assertIndicesConsistent(t, r)

	r.Remove("a2")
	assertIndicesConsistent(t, r)

	r.Remove("h1")
	assertIndicesConsistent(t, r)
}

func assertIndicesConsistent(t *testing.T, r *Registry) {
	t.Helper()
	all := r.All()
	byID := make(map[string]*Connection, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	for kind := range map[protocol.ClientKind]bool{protocol.ClientAgent: true, protocol.ClientEnvironment: true, protocol.ClientHuman: true} {
		for _, c := range r.ByKind(kind) {
			if _, ok := byID[c.ID]; !ok {
				t.Fatalf("kind index contains %s not in primary map", c.ID)
			}
			if c.Info.ClientType != kind {
				t.Fatalf("kind index %v contains connection of kind %v", kind, c.Info.ClientType)
			}
		}
	}

	for _, c := range all {
		found := false
		for _, k := range r.ByKind(c.Info.ClientType) {
			if k.ID == c.ID {
				found = true
			}
		}
		if !found {
			t.Fatalf("connection %s missing from its kind index", c.ID)
		}
		if c.Info.EnvID != "" {
			found = false
			for _, e := range r.ByEnv(c.Info.EnvID) {
				if e.ID == c.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("connection %s missing from its env index", c.ID)
			}
		}
	}
}

func TestStats(t *testing.T) {
	r := New()
	for _, c := range []*Connection{
		newTestConn("a1", protocol.ClientAgent, "env1"),
		newTestConn("a2", protocol.ClientAgent, "env2"),
		newTestConn("e1", protocol.ClientEnvironment, "env1"),
		newTestConn("h1", protocol.ClientHuman, ""),
	} {
		if err := r.Add(c); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	stats := r.Stats()
	if stats.Total != 4 || stats.Agents != 2 || stats.Environments != 1 || stats.Humans != 1 || stats.EnvCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTouchUpdatesHeartbeat(t *testing.T) {
	r := New()
	c := newTestConn("a1", protocol.ClientAgent, "env1")
	if err := r.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}

	old := c.LastHeartbeat()
	time.Sleep(time.Millisecond)
	if !r.Touch("a1") {
		t.Fatalf("expected touch to report present")
	}
	if !c.LastHeartbeat().After(old) {
		t.Fatalf("expected heartbeat to advance")
	}

	if r.Touch("missing") {
		t.Fatalf("expected touch of unknown id to report absent")
	}
}

func TestStaleBefore(t *testing.T) {
	r := New()
	c := newTestConn("a1", protocol.ClientAgent, "env1")
	if err := r.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}

	cutoff := time.Now().Add(time.Hour)
	stale := r.StaleBefore(cutoff)
	if len(stale) != 1 || stale[0].ID != "a1" {
		t.Fatalf("expected a1 to be stale, got %v", stale)
	}

	if got := r.StaleBefore(time.Now().Add(-time.Hour)); len(got) != 0 {
		t.Fatalf("expected no stale connections, got %v", got)
	}
}
