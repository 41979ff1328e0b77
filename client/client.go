// Package client implements the client side of the bus: one outbound
// socket to the hub, a fixed set of dispatch hooks, user-registered
// handler lists per message kind, and a request/response correlation layer
// built on internal/reqcontext. Agent, Environment, and Human are thin
// specialisations that fix the client kind and add kind-appropriate send
// helpers.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"starhub/internal/reqcontext"
	"starhub/internal/transport"
	"starhub/protocol"
)

// ActionHandler receives an inbound action message and the envelope's
// sender.
type ActionHandler func(msg protocol.Message, sender string)

// OutcomeHandler receives an inbound outcome message.
type OutcomeHandler func(msg protocol.Message)

// EventHandler receives an inbound event message.
type EventHandler func(msg protocol.Message)

// StreamHandler receives one inbound stream chunk.
type StreamHandler func(msg protocol.Message)

type namedHandler[F any] struct {
	name string // empty matches every message of that kind
	fn   F
}

// Client is the base the agent/environment/human specialisations build on.
// It owns a single outbound connection, dispatches inbound frames to the
// fixed hooks, and lets a caller register additional handlers per message
// kind, optionally filtered by action/event/stream name, invoked in
// registration order.
type Client struct {
	Info   protocol.ClientInfo
	HubURL string

	log *slog.Logger
	ctx *reqcontext.Manager

	mu          sync.Mutex
	conn        *transport.Conn
	connected   bool
	done        chan struct{}
	closeOnce   sync.Once
	readLoopErr error

	actionHandlers  []namedHandler[ActionHandler]
	outcomeHandlers []namedHandler[OutcomeHandler]
	eventHandlers   []namedHandler[EventHandler]
	streamHandlers  []namedHandler[StreamHandler]

	// OnHeartbeat, OnMessage, OnError are the three fixed hooks a caller may
	// override; nil keeps the default (log and, for OnMessage, dispatch to
	// the kind-specific handler lists).
	OnHeartbeat func(env protocol.Envelope)
	OnMessage   func(env protocol.Envelope)
	OnError     func(env protocol.Envelope)
}

// Option configures optional Client behaviour.
type Option func(*clientOpts)

type clientOpts struct {
	messageTimeout time.Duration
}

// WithMessageTimeout sets the default context wait timeout, the
// message_timeout configuration key. Zero keeps the package default.
func WithMessageTimeout(d time.Duration) Option {
	return func(o *clientOpts) { o.messageTimeout = d }
}

// New constructs a Client for info, dialing hubURL on Connect. log may be
// nil (falls back to slog.Default()).
func New(info protocol.ClientInfo, hubURL string, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	var o clientOpts
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		Info:   info,
		HubURL: hubURL,
		log:    log,
		ctx:    reqcontext.New(info.ClientID, o.messageTimeout, log),
		done:   make(chan struct{}),
	}
}

// OnAction registers a handler for action messages. name filters to one
// action; empty matches every action.
func (c *Client) OnAction(name string, fn ActionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actionHandlers = append(c.actionHandlers, namedHandler[ActionHandler]{name, fn})
}

// OnOutcome registers a handler for outcome messages, optionally filtered
// by action_id.
func (c *Client) OnOutcome(actionID string, fn OutcomeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomeHandlers = append(c.outcomeHandlers, namedHandler[OutcomeHandler]{actionID, fn})
}

// OnEvent registers a handler for event messages, optionally filtered by
// event name.
func (c *Client) OnEvent(name string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, namedHandler[EventHandler]{name, fn})
}

// OnStream registers a handler for stream messages, optionally filtered by
// stream name.
func (c *Client) OnStream(name string, fn StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamHandlers = append(c.streamHandlers, namedHandler[StreamHandler]{name, fn})
}

// Connect dials the hub, sends the connect event, and starts the read loop
// and context sweeper in the background. It does not wait for the hub's
// connected ack: a rejected handshake surfaces later as a close on the read
// loop, after which Connected reports false.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.HubURL)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}

	connectMsg := protocol.NewEventMessage("connect", "", map[string]any{
		"client_type": string(c.Info.ClientType),
		"env_id":      c.Info.EnvID,
		"metadata":    c.Info.Metadata,
	})
	env, err := protocol.NewMessageEnvelope(c.Info.ClientID, protocol.HubSenderID, connectMsg)
	if err != nil {
		_ = conn.Close(transport.CloseNormal, "")
		return fmt.Errorf("client: build connect envelope: %w", err)
	}
	if err := conn.Send(env); err != nil {
		_ = conn.Close(transport.CloseNormal, "")
		return fmt.Errorf("client: send connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.ctx.Start(context.Background())
	go c.readLoop()

	c.log.Info("client: connected", "client_id", c.Info.ClientID, "hub_url", c.HubURL)
	return nil
}

// Connected reports whether the client currently believes it holds a live
// connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect stops the context sweeper and closes the connection.
// Idempotent.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ctx.Stop()

		c.mu.Lock()
		conn := c.conn
		c.connected = false
		c.mu.Unlock()

		if conn != nil {
			err = conn.Close(transport.CloseNormal, "client disconnect")
		}
	})
	return err
}

// Send writes env directly to the hub.
func (c *Client) Send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	return conn.Send(env)
}

// SendMessage wraps msg in an envelope addressed to recipient and sends it.
func (c *Client) SendMessage(msg protocol.Message, recipient string) error {
	env, err := protocol.NewMessageEnvelope(c.Info.ClientID, recipient, msg)
	if err != nil {
		return fmt.Errorf("client: build envelope: %w", err)
	}
	return c.Send(env)
}

// SendActionWithContext sends an action, using the minted request id as the
// action_id, and blocks until the matching outcome arrives, times out, or
// ctx is cancelled.
func (c *Client) SendActionWithContext(ctx context.Context, action string, parameters map[string]any, recipient string, timeout time.Duration) (protocol.Message, error) {
	opts := []reqcontext.CreateOption{}
	if timeout > 0 {
		opts = append(opts, reqcontext.WithTimeout(timeout))
	}
	entry, err := c.ctx.Create("action", map[string]any{"action": action, "recipient": recipient}, opts...)
	if err != nil {
		return protocol.Message{}, err
	}

	msg := protocol.NewActionMessage(action, entry.RequestID, parameters)
	if err := c.SendMessage(msg, recipient); err != nil {
		c.ctx.Remove(entry.RequestID)
		return protocol.Message{}, err
	}

	result, err := c.ctx.Wait(ctx, entry.RequestID)
	if err != nil {
		return protocol.Message{}, err
	}
	outcome, _ := result.(protocol.Message)
	return outcome, nil
}

// SendEventWithContext sends an event. When waitForResponse is true, a
// request_id is minted into data and the call blocks for a reply event or
// outcome carrying a matching request_id/action_id; otherwise it returns
// immediately with an empty request id.
func (c *Client) SendEventWithContext(ctx context.Context, event string, data map[string]any, recipient string, timeout time.Duration, waitForResponse bool) (protocol.Message, string, error) {
	if !waitForResponse {
		msg := protocol.NewEventMessage(event, "", data)
		return protocol.Message{}, "", c.SendMessage(msg, recipient)
	}

	opts := []reqcontext.CreateOption{}
	if timeout > 0 {
		opts = append(opts, reqcontext.WithTimeout(timeout))
	}
	entry, err := c.ctx.Create("event", map[string]any{"event": event, "recipient": recipient}, opts...)
	if err != nil {
		return protocol.Message{}, "", err
	}

	merged := make(map[string]any, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged["request_id"] = entry.RequestID

	msg := protocol.NewEventMessage(event, "", merged)
	if err := c.SendMessage(msg, recipient); err != nil {
		c.ctx.Remove(entry.RequestID)
		return protocol.Message{}, entry.RequestID, err
	}

	result, err := c.ctx.Wait(ctx, entry.RequestID)
	if err != nil {
		return protocol.Message{}, entry.RequestID, err
	}
	reply, _ := result.(protocol.Message)
	return reply, entry.RequestID, nil
}

// ContextStats exposes the correlation layer's counters.
func (c *Client) ContextStats() reqcontext.Stats {
	return c.ctx.Stats()
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		env, err := conn.Recv(context.Background())
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.log.Info("client: connection closed", "client_id", c.Info.ClientID, "err", err)
			c.mu.Lock()
			c.connected = false
			c.readLoopErr = err
			c.mu.Unlock()
			return
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.EnvelopeHeartbeat:
		if c.OnHeartbeat != nil {
			c.OnHeartbeat(env)
		} else {
			c.log.Debug("client: heartbeat", "sender", env.Sender)
		}
	case protocol.EnvelopeError:
		if c.OnError != nil {
			c.OnError(env)
		} else {
			c.log.Warn("client: error envelope", "sender", env.Sender)
		}
	case protocol.EnvelopeMessage:
		if c.OnMessage != nil {
			c.OnMessage(env)
			return
		}
		c.handleMessage(env)
	}
}

func (c *Client) handleMessage(env protocol.Envelope) {
	msg, err := env.AsMessage()
	if err != nil {
		c.log.Warn("client: malformed message envelope", "err", err)
		return
	}

	switch msg.Type {
	case protocol.MessageAction:
		c.dispatchAction(msg, env.Sender)
	case protocol.MessageOutcome:
		c.resolveReply(msg)
		c.dispatchOutcome(msg)
	case protocol.MessageEvent:
		if msg.Event == "client_registered" || msg.Event == "agent_joined" {
			c.log.Debug("client: system event", "event", msg.Event, "data", msg.Data)
			c.dispatchEvent(msg)
			return
		}
		c.resolveReply(msg)
		c.dispatchEvent(msg)
	case protocol.MessageStream:
		c.dispatchStream(msg)
	}
}

// resolveReply matches an inbound outcome/event against a pending
// request context.
func (c *Client) resolveReply(msg protocol.Message) {
	if requestID := msg.RequestID(); requestID != "" {
		c.ctx.Complete(requestID, msg)
	}
}

// runHandler invokes one user handler, recovering a panic so a failing
// handler cannot stop the remaining handlers or kill the read loop.
func (c *Client) runHandler(kind, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("client: handler panicked", "kind", kind, "name", name, "panic", r)
		}
	}()
	fn()
}

func (c *Client) dispatchAction(msg protocol.Message, sender string) {
	c.mu.Lock()
	handlers := append([]namedHandler[ActionHandler]{}, c.actionHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.name == "" || h.name == msg.Action {
			c.runHandler("action", msg.Action, func() { h.fn(msg, sender) })
		}
	}
}

func (c *Client) dispatchOutcome(msg protocol.Message) {
	c.mu.Lock()
	handlers := append([]namedHandler[OutcomeHandler]{}, c.outcomeHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.name == "" || h.name == msg.ActionID {
			c.runHandler("outcome", msg.ActionID, func() { h.fn(msg) })
		}
	}
}

func (c *Client) dispatchEvent(msg protocol.Message) {
	c.mu.Lock()
	handlers := append([]namedHandler[EventHandler]{}, c.eventHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.name == "" || h.name == msg.Event {
			c.runHandler("event", msg.Event, func() { h.fn(msg) })
		}
	}
}

func (c *Client) dispatchStream(msg protocol.Message) {
	c.mu.Lock()
	handlers := append([]namedHandler[StreamHandler]{}, c.streamHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.name == "" || h.name == msg.Stream {
			c.runHandler("stream", msg.Stream, func() { h.fn(msg) })
		}
	}
}
