// Package protocol defines the wire envelope and message schema shared by
// the hub and every client kind. It is kept dependency-light so client
// binaries can import the contract without pulling in hub internals.
package protocol

// ClientKind identifies the role a connected client plays.
type ClientKind string

const (
	ClientAgent       ClientKind = "agent"
	ClientEnvironment ClientKind = "environment"
	ClientHuman       ClientKind = "human"
)

// Valid reports whether k is one of the three known client kinds.
func (k ClientKind) Valid() bool {
	switch k {
	case ClientAgent, ClientEnvironment, ClientHuman:
		return true
	default:
		return false
	}
}

// HubSenderID is the synthetic sender id the hub uses for envelopes it
// originates itself (e.g. "connected", "agent_joined").
const HubSenderID = "hub"

// BroadcastRecipient is the reserved recipient literal requesting
// audience-rule delivery instead of point-to-point delivery.
const BroadcastRecipient = "broadcast"

// EnvelopeType tells the hub how to route before looking inside the
// envelope.
type EnvelopeType string

const (
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
	EnvelopeMessage   EnvelopeType = "message"
	EnvelopeError     EnvelopeType = "error"
)

func (t EnvelopeType) valid() bool {
	switch t {
	case EnvelopeHeartbeat, EnvelopeMessage, EnvelopeError:
		return true
	default:
		return false
	}
}

// MessageType is the message_type discriminator for the embedded message.
type MessageType string

const (
	MessageAction       MessageType = "action"
	MessageOutcome      MessageType = "outcome"
	MessageEvent        MessageType = "event"
	MessageStream       MessageType = "stream"
	MessageRegistration MessageType = "registration"
)

func (t MessageType) valid() bool {
	switch t {
	case MessageAction, MessageOutcome, MessageEvent, MessageStream, MessageRegistration:
		return true
	default:
		return false
	}
}

// OutcomeStatus is the result of an action.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)
