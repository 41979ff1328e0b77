// Package router implements the hub's delivery decision: point-to-point
// when the envelope names a concrete recipient, otherwise a broadcast whose
// audience is computed from the sender's kind, the message kind, and the
// sender's env_id.
package router

import (
	"log/slog"

	"starhub/internal/registry"
	"starhub/protocol"
)

// Router decides envelope delivery targets and writes to them.
type Router struct {
	registry *registry.Registry
	log      *slog.Logger
}

// New returns a Router reading and writing through reg.
func New(reg *registry.Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: reg, log: log}
}

// Route delivers env as sent by the connection fromID and returns the
// number of successful writes. The hub must already have overwritten
// env.Sender to fromID before calling Route: clients cannot spoof sender.
func (r *Router) Route(env protocol.Envelope, fromID string) int {
	r.registry.Touch(fromID)

	if env.Type == protocol.EnvelopeHeartbeat {
		return 0
	}

	if env.Recipient != "" && env.Recipient != protocol.BroadcastRecipient {
		return r.deliverDirect(env)
	}

	// Broadcast or missing recipient. Heartbeat and error envelopes are
	// never broadcast; only "message" envelopes carry a message_type to key
	// the audience rules off of.
	if env.Type != protocol.EnvelopeMessage {
		return 0
	}

	msg, err := env.AsMessage()
	if err != nil {
		r.log.Warn("router: could not decode message for broadcast", "err", err)
		return 0
	}

	var senderKind protocol.ClientKind
	var senderEnv string
	if sender, ok := r.registry.Get(fromID); ok {
		senderKind = sender.Info.ClientType
		senderEnv = sender.Info.EnvID
	}

	delivered := 0
	for _, target := range r.broadcastTargets(senderKind, senderEnv, msg.Type) {
		if target.ID == fromID {
			continue
		}
		if err := target.Send(env); err != nil {
			r.log.Warn("router: broadcast write failed, removing target", "id", target.ID, "err", err)
			r.registry.Remove(target.ID)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Router) deliverDirect(env protocol.Envelope) int {
	target, ok := r.registry.Get(env.Recipient)
	if !ok {
		r.log.Warn("router: recipient not found", "recipient", env.Recipient)
		return 0
	}
	if err := target.Send(env); err != nil {
		r.log.Warn("router: write failed, removing target", "id", target.ID, "err", err)
		r.registry.Remove(target.ID)
		return 0
	}
	return 1
}

// broadcastTargets computes the audience for a broadcast. Self-exclusion
// and failed-write cleanup are handled by the caller.
func (r *Router) broadcastTargets(senderKind protocol.ClientKind, senderEnv string, msgType protocol.MessageType) []*registry.Connection {
	switch msgType {
	case protocol.MessageEvent:
		switch senderKind {
		case protocol.ClientEnvironment:
			if senderEnv == "" {
				return r.registry.All()
			}
			return r.registry.ByEnv(senderEnv)
		case protocol.ClientHuman:
			return r.registry.All()
		case protocol.ClientAgent:
			if senderEnv == "" {
				return nil
			}
			return r.registry.ByEnv(senderEnv)
		default:
			return nil
		}

	case protocol.MessageStream:
		if senderKind == protocol.ClientHuman {
			return r.registry.All()
		}
		if senderEnv == "" {
			return nil
		}
		return r.registry.ByEnv(senderEnv)

	case protocol.MessageAction, protocol.MessageOutcome:
		if senderKind != protocol.ClientAgent && senderKind != protocol.ClientEnvironment {
			return nil
		}
		if senderEnv == "" {
			return nil
		}
		all := r.registry.ByEnv(senderEnv)
		out := make([]*registry.Connection, 0, len(all))
		for _, c := range all {
			if c.Info.ClientType != senderKind {
				out = append(out, c)
			}
		}
		return out

	default:
		return nil
	}
}
