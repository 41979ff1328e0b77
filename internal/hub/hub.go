// Package hub implements the server side of the message bus: accept
// connections, drive the handshake, spawn per-connection read loops, run
// the periodic heartbeat sweep, and shut down gracefully.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"starhub/internal/hubmetrics"
	"starhub/internal/ids"
	"starhub/internal/ratelimit"
	"starhub/internal/registry"
	"starhub/internal/router"
	"starhub/internal/transport"
	"starhub/protocol"
)

const maxConsecutivePingFailures = 3

// ConnectFilter is an optional pre-routing hook a caller can install to
// reject a handshake before registration. Left nil by default; the
// substrate layer itself carries no authn/z.
type ConnectFilter func(ctx context.Context, info protocol.ClientInfo) error

// ErrShuttingDown is returned by operations attempted after Shutdown has
// been called.
var ErrShuttingDown = errors.New("hub: shutting down")

// Hub owns the connection registry, the router, its configuration, its
// logger, and (optionally) a metrics sink. Construction injects
// everything; there is no package-level state.
type Hub struct {
	cfg     Config
	reg     *registry.Registry
	rt      *router.Router
	log     *slog.Logger
	metrics *hubmetrics.Metrics
	filter  ConnectFilter

	mu         sync.Mutex
	done       chan struct{}
	closed     bool
	group      *errgroup.Group
	cancelRoot context.CancelFunc
}

// Option configures optional Hub behaviour.
type Option func(*Hub)

// WithConnectFilter installs a pre-routing handshake filter.
func WithConnectFilter(f ConnectFilter) Option {
	return func(h *Hub) { h.filter = f }
}

// WithMetrics installs a metrics sink; without this option the hub runs
// with metrics disabled.
func WithMetrics(m *hubmetrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New constructs a Hub. log may be nil (falls back to slog.Default()).
func New(cfg Config, log *slog.Logger, opts ...Option) *Hub {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	reg := registry.New()
	h := &Hub{
		cfg:  cfg,
		reg:  reg,
		rt:   router.New(reg, log),
		log:  log,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the connection registry for read-only operational use
// (health checks, stats endpoints).
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Start launches the heartbeat sweeper as a background task under ctx.
// Call Shutdown to stop it deterministically.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	rootCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(rootCtx)
	h.group = g
	h.cancelRoot = cancel
	h.mu.Unlock()

	g.Go(func() error {
		h.runHeartbeatSweeper(gCtx)
		return nil
	})
}

// Wait blocks until the sweeper (and any other lifecycle tasks) exit.
func (h *Hub) Wait() error {
	h.mu.Lock()
	g := h.group
	h.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Shutdown stops accepting new heartbeat sweeps, closes every registered
// connection, and waits for background tasks to exit or ctx to expire.
// Idempotent.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	cancel := h.cancelRoot
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, conn := range h.reg.All() {
		_ = conn.Close(transport.CloseShutdownOrHeartbeat, "Server shutdown")
		h.reg.Remove(conn.ID)
		if h.metrics != nil {
			h.metrics.ConnectionClosed(conn.Info.ClientType)
		}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- h.Wait() }()

	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request to a websocket connection, runs the
// handshake, and then the connection's read loop and heartbeat ping loop
// until the peer disconnects, the hub shuts down, or the request's own
// context is cancelled.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Accept(w, r, transport.AcceptOptions{
		MaxFrameBytes:      h.cfg.MaxFrameBytes,
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error("hub: websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.Close(transport.CloseNormal, "bye") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stopWatch := make(chan struct{})
	go func() {
		defer close(stopWatch)
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	info, id, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Info("hub: handshake rejected", "err", err)
		cancel()
		<-stopWatch
		return
	}

	if h.metrics != nil {
		h.metrics.ConnectionOpened(info.ClientType)
	}
	defer func() {
		h.reg.Remove(id)
		if h.metrics != nil {
			h.metrics.ConnectionClosed(info.ClientType)
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		h.runHeartbeatPing(ctx, conn, id)
	}()

	limiter := ratelimit.New(h.cfg.RateLimitEvents, h.cfg.RateLimitWindow)
	h.readLoop(ctx, conn, id, limiter)

	cancel()
	<-pingDone
	<-stopWatch
}

func (h *Hub) readLoop(ctx context.Context, conn *transport.Conn, id string, limiter *ratelimit.Limiter) {
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			switch transport.ClassifyReadError(err) {
			case transport.ReadErrClose, transport.ReadErrConnClosed, transport.ReadErrCtxDone:
				h.log.Info("hub: connection closed", "id", id)
			default:
				h.log.Warn("hub: read failed", "id", id, "err", err)
			}
			return
		}

		if !limiter.Allow(time.Now()) {
			h.log.Warn("hub: rate limit exceeded, closing", "id", id)
			_ = conn.Close(transport.CloseRateLimited, "rate limited")
			return
		}

		h.reg.Touch(id)
		env.Sender = id // the hub, not the client, decides sender identity

		delivered := h.rt.Route(env, id)
		if h.metrics != nil {
			h.metrics.EnvelopeRouted(delivered)
		}
	}
}

func (h *Hub) runHeartbeatPing(ctx context.Context, conn *transport.Conn, id string) {
	if h.cfg.WSPingInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.cfg.WSPingInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.cfg.WSPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				if failures >= maxConsecutivePingFailures {
					h.log.Info("hub: heartbeat ping failed repeatedly, closing", "id", id, "failures", failures)
					_ = conn.Close(transport.CloseShutdownOrHeartbeat, "Heartbeat timeout")
					return
				}
				continue
			}
			failures = 0
			h.reg.Touch(id)
		}
	}
}

func (h *Hub) runHeartbeatSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStaleConnections()
		}
	}
}

func (h *Hub) sweepStaleConnections() {
	cutoff := time.Now().Add(-2 * h.cfg.HeartbeatInterval)
	for _, conn := range h.reg.StaleBefore(cutoff) {
		h.log.Info("hub: pruning stale connection", "id", conn.ID)
		h.reg.Remove(conn.ID)
		_ = conn.Close(transport.CloseShutdownOrHeartbeat, "Heartbeat timeout")
		if h.metrics != nil {
			h.metrics.ConnectionPruned(conn.Info.ClientType)
		}
	}
}

func (h *Hub) sendConnectedAck(conn *transport.Conn, info protocol.ClientInfo) {
	eventID, err := ids.New()
	if err != nil {
		h.log.Warn("hub: failed to mint connected-ack event id", "err", err)
	}
	data := map[string]any{
		"status":      "success",
		"client_id":   info.ClientID,
		"client_type": string(info.ClientType),
	}
	if info.EnvID != "" {
		data["env_id"] = info.EnvID
	}
	msg := protocol.NewEventMessage("connected", eventID, data)
	env, err := protocol.NewMessageEnvelope(protocol.HubSenderID, info.ClientID, msg)
	if err != nil {
		h.log.Warn("hub: failed to build connected ack", "err", err)
		return
	}
	if err := conn.Send(env); err != nil {
		h.log.Warn("hub: failed to send connected ack", "id", info.ClientID, "err", err)
	}
}

// announceAgentJoined synthesises an agent_joined event to every
// environment connection sharing the agent's env_id.
func (h *Hub) announceAgentJoined(info protocol.ClientInfo) {
	eventID, err := ids.New()
	if err != nil {
		h.log.Warn("hub: failed to mint agent_joined event id", "err", err)
	}
	msg := protocol.NewEventMessage("agent_joined", eventID, map[string]any{
		"agent_id": info.ClientID,
		"env_id":   info.EnvID,
	})
	for _, target := range h.reg.ByEnv(info.EnvID) {
		if target.Info.ClientType != protocol.ClientEnvironment {
			continue
		}
		env, err := protocol.NewMessageEnvelope(protocol.HubSenderID, target.ID, msg)
		if err != nil {
			h.log.Warn("hub: failed to build agent_joined event", "err", err)
			continue
		}
		if err := target.Send(env); err != nil {
			h.log.Warn("hub: failed to deliver agent_joined event", "id", target.ID, "err", err)
		}
	}
}
