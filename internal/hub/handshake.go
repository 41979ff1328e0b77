package hub

import (
	"context"
	"errors"
	"fmt"

	"starhub/internal/registry"
	"starhub/internal/transport"
	"starhub/protocol"
)

// ErrHandshakeFailed is the sentinel wrapped by every handshake rejection.
var ErrHandshakeFailed = errors.New("hub: handshake failed")

// handshake admits one new connection. The socket is already accepted at
// the transport layer; this reads exactly one frame, validates it is a
// connect event, enforces the connection cap and duplicate-id rule,
// registers the connection, and sends back the connected acknowledgement
// (plus an agent_joined event when applicable). On any failure the socket
// is closed with the appropriate close code and the connection is never
// registered.
func (h *Hub) handshake(parent context.Context, conn *transport.Conn) (protocol.ClientInfo, string, error) {
	ctx, cancel := context.WithTimeout(parent, h.cfg.HandshakeTimeout)
	defer cancel()

	env, err := conn.Recv(ctx)
	if err != nil {
		_ = conn.Close(transport.CloseHandshakeOrDupe, "Invalid handshake")
		h.rejectHandshake(conn, "malformed")
		return protocol.ClientInfo{}, "", fmt.Errorf("%w: read first frame: %v", ErrHandshakeFailed, err)
	}

	msg, clientID, err := h.validateConnectFrame(env)
	if err != nil {
		_ = conn.Close(transport.CloseHandshakeOrDupe, "Invalid handshake")
		h.rejectHandshake(conn, "malformed")
		return protocol.ClientInfo{}, "", err
	}

	info, err := clientInfoFromConnectData(clientID, msg.Data)
	if err != nil {
		_ = conn.Close(transport.CloseHandshakeOrDupe, "Invalid handshake")
		h.rejectHandshake(conn, "malformed")
		return protocol.ClientInfo{}, "", err
	}

	if h.reg.Stats().Total >= h.cfg.MaxConnections {
		_ = conn.Close(transport.CloseOverloaded, "Overloaded")
		h.rejectHandshake(conn, "overloaded")
		return protocol.ClientInfo{}, "", fmt.Errorf("%w: connection cap reached", ErrHandshakeFailed)
	}

	if h.filter != nil {
		if err := h.filter(ctx, info); err != nil {
			_ = conn.Close(transport.CloseRegistrationFailed, "Registration failed")
			h.rejectHandshake(conn, "registration_failed")
			return protocol.ClientInfo{}, "", fmt.Errorf("%w: connect filter: %v", ErrHandshakeFailed, err)
		}
	}

	registered := registry.NewConnection(clientID, info, conn)
	if err := h.reg.Add(registered); err != nil {
		_ = conn.Close(transport.CloseHandshakeOrDupe, "Duplicate client id")
		h.rejectHandshake(conn, "duplicate")
		return protocol.ClientInfo{}, "", fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	h.sendConnectedAck(conn, info)
	if info.ClientType == protocol.ClientAgent && info.EnvID != "" {
		h.announceAgentJoined(info)
	}

	return info, clientID, nil
}

func (h *Hub) rejectHandshake(conn *transport.Conn, reason string) {
	if h.metrics != nil {
		h.metrics.HandshakeRejected(reason)
	}
}

// validateConnectFrame checks that env is a message envelope wrapping a
// connect event with a non-empty sender.
func (h *Hub) validateConnectFrame(env protocol.Envelope) (protocol.Message, string, error) {
	if env.Type != protocol.EnvelopeMessage {
		return protocol.Message{}, "", fmt.Errorf("%w: first frame was not a message envelope", ErrHandshakeFailed)
	}
	if env.Sender == "" {
		return protocol.Message{}, "", fmt.Errorf("%w: first frame has no sender", ErrHandshakeFailed)
	}
	msg, err := env.AsMessage()
	if err != nil {
		return protocol.Message{}, "", fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if msg.Type != protocol.MessageEvent || msg.Event != "connect" {
		return protocol.Message{}, "", fmt.Errorf("%w: first frame was not a connect event", ErrHandshakeFailed)
	}
	return msg, env.Sender, nil
}

// clientInfoFromConnectData extracts client_type/env_id/metadata from the
// connect event's data object and validates the result.
func clientInfoFromConnectData(clientID string, data map[string]any) (protocol.ClientInfo, error) {
	info := protocol.ClientInfo{ClientID: clientID}

	if v, ok := data["client_type"].(string); ok {
		info.ClientType = protocol.ClientKind(v)
	}
	if v, ok := data["env_id"].(string); ok {
		info.EnvID = v
	}
	if v, ok := data["metadata"].(map[string]any); ok {
		info.Metadata = v
	}

	if err := info.Validate(); err != nil {
		return protocol.ClientInfo{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return info, nil
}
