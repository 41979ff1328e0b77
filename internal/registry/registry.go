// Package registry is the hub's connection table: one entry per live
// client, indexed by id, by kind, and by environment id.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"starhub/protocol"
)

// ErrDuplicate is returned by Add when a connection with the same id is
// already registered; at most one live Connection exists per client_id.
var ErrDuplicate = errors.New("registry: duplicate client id")

// Peer is the transport handle a Connection writes through. internal/hub
// supplies a concrete implementation over internal/transport; keeping the
// interface here lets the registry and router stay independent of the
// websocket library.
type Peer interface {
	Send(protocol.Envelope) error
	Close(code int, reason string) error
}

// Connection is a transport handle plus the immutable identity declared at
// handshake time plus a liveness timestamp. Info never mutates after
// construction.
type Connection struct {
	ID   string
	Info protocol.ClientInfo
	Peer Peer

	lastHeartbeat atomic.Int64 // unix nano
}

// NewConnection constructs a Connection with its heartbeat set to now.
func NewConnection(id string, info protocol.ClientInfo, peer Peer) *Connection {
	c := &Connection{ID: id, Info: info, Peer: peer}
	c.Touch()
	return c
}

// Touch refreshes the liveness timestamp to now.
func (c *Connection) Touch() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the time of the most recent Touch.
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Send writes an envelope to the connection's peer.
func (c *Connection) Send(e protocol.Envelope) error {
	return c.Peer.Send(e)
}

// Close closes the connection's peer with the given close code/reason.
func (c *Connection) Close(code int, reason string) error {
	return c.Peer.Close(code, reason)
}

// Stats summarises the registry's current population.
type Stats struct {
	Total       int
	Agents      int
	Environments int
	Humans      int
	EnvCount    int
}

// Registry is the hub's connection table. A single RWMutex covers all three
// indices; writes (add/remove) are infrequent relative to reads (router
// broadcast computation).
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byKind map[protocol.ClientKind]map[string]*Connection
	byEnv  map[string]map[string]*Connection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[string]*Connection),
		byKind: make(map[protocol.ClientKind]map[string]*Connection),
		byEnv:  make(map[string]map[string]*Connection),
	}
}

// Add registers conn, failing with ErrDuplicate if its id is already
// present. Updates all three indices atomically under the write lock.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; exists {
		return ErrDuplicate
	}

	r.byID[conn.ID] = conn

	kindSet, ok := r.byKind[conn.Info.ClientType]
	if !ok {
		kindSet = make(map[string]*Connection)
		r.byKind[conn.Info.ClientType] = kindSet
	}
	kindSet[conn.ID] = conn

	if conn.Info.EnvID != "" {
		envSet, ok := r.byEnv[conn.Info.EnvID]
		if !ok {
			envSet = make(map[string]*Connection)
			r.byEnv[conn.Info.EnvID] = envSet
		}
		envSet[conn.ID] = conn
	}
	return nil
}

// Remove deletes the connection with the given id from all three indices,
// reporting whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	if kindSet, ok := r.byKind[conn.Info.ClientType]; ok {
		delete(kindSet, id)
		if len(kindSet) == 0 {
			delete(r.byKind, conn.Info.ClientType)
		}
	}
	if conn.Info.EnvID != "" {
		if envSet, ok := r.byEnv[conn.Info.EnvID]; ok {
			delete(envSet, id)
			if len(envSet) == 0 {
				delete(r.byEnv, conn.Info.EnvID)
			}
		}
	}
	return true
}

// Get returns the connection registered under id, if any.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// ByKind returns a snapshot slice of every connection of the given kind.
// Callers iterate the returned slice without holding any registry lock.
func (r *Registry) ByKind(kind protocol.ClientKind) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byKind[kind]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// ByEnv returns a snapshot slice of every connection sharing envID.
func (r *Registry) ByEnv(envID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byEnv[envID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot slice of every connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Touch refreshes the liveness timestamp of the connection with the given
// id, reporting whether it exists. The heartbeat field lives on the
// Connection itself (atomic), so this only needs the read lock.
func (r *Registry) Touch(id string) bool {
	r.mu.RLock()
	conn, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	conn.Touch()
	return true
}

// Stats reports population counts across the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Total:        len(r.byID),
		Agents:       len(r.byKind[protocol.ClientAgent]),
		Environments: len(r.byKind[protocol.ClientEnvironment]),
		Humans:       len(r.byKind[protocol.ClientHuman]),
		EnvCount:     len(r.byEnv),
	}
}

// StaleBefore returns a snapshot of connections whose last heartbeat
// predates cutoff, for the hub's heartbeat sweeper.
func (r *Registry) StaleBefore(cutoff time.Time) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.byID {
		if c.LastHeartbeat().Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}
