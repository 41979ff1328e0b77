package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the typed payload inside an envelope: action, outcome, event,
// stream, or registration, discriminated on the wire by message_type.
// It is kept as one struct with per-kind optional fields rather than an
// interface plus five concrete types, since the only consumers (router,
// dispatcher) always switch on Type anyway and a single struct gives a
// cheap, allocation-free round trip through encoding/json.
type Message struct {
	Type MessageType `json:"message_type"`

	// action
	Action     string         `json:"action,omitempty"`
	ActionID   string         `json:"action_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// outcome (action_id shared with action)
	Status  OutcomeStatus  `json:"status,omitempty"`
	Outcome map[string]any `json:"outcome,omitempty"`

	// event
	Event   string         `json:"event,omitempty"`
	EventID string         `json:"event_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// stream
	StreamID string         `json:"stream_id,omitempty"`
	Stream   string         `json:"stream,omitempty"`
	Sequence int64          `json:"sequence"`
	Chunk    map[string]any `json:"chunk,omitempty"`

	// registration
	ClientInfo *ClientInfo `json:"client_info,omitempty"`
}

// ClientInfo is the immutable identity a client declares at handshake time.
type ClientInfo struct {
	ClientID   string         `json:"client_id"`
	ClientType ClientKind     `json:"client_type"`
	EnvID      string         `json:"env_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the identity names a client id and a known kind.
func (c ClientInfo) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_info missing client_id", ErrMalformed)
	}
	if !c.ClientType.Valid() {
		return fmt.Errorf("%w: client_info has unknown client_type %q", ErrMalformed, c.ClientType)
	}
	return nil
}

// NewActionMessage builds an action message ready to embed in an envelope.
func NewActionMessage(action, actionID string, parameters map[string]any) Message {
	return Message{Type: MessageAction, Action: action, ActionID: actionID, Parameters: parameters}
}

// NewOutcomeMessage builds an outcome message replying to actionID.
func NewOutcomeMessage(actionID string, status OutcomeStatus, outcome map[string]any) Message {
	return Message{Type: MessageOutcome, ActionID: actionID, Status: status, Outcome: outcome}
}

// NewEventMessage builds an event message. eventID may be empty; callers
// that need a correlation id should mint one via internal/ids and pass it
// explicitly (or thread it through data["request_id"] for context replies).
func NewEventMessage(event, eventID string, data map[string]any) Message {
	return Message{Type: MessageEvent, Event: event, EventID: eventID, Data: data}
}

// NewStreamMessage builds one chunk of a named stream.
func NewStreamMessage(streamID, stream string, sequence int64, chunk map[string]any) Message {
	return Message{Type: MessageStream, StreamID: streamID, Stream: stream, Sequence: sequence, Chunk: chunk}
}

// NewRegistrationMessage wraps a ClientInfo in a registration message. The
// hub's handshake does not read this kind: the connect event carries
// client_type, env_id, and metadata as plain keys of its data.
func NewRegistrationMessage(info ClientInfo) Message {
	return Message{Type: MessageRegistration, ClientInfo: &info}
}

// UnmarshalJSON validates the message_type discriminator and the fields
// required for that kind. Unknown extra keys are ignored (forward
// compatibility); an aliased type avoids infinite recursion into this
// method.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !a.Type.valid() {
		return fmt.Errorf("%w: missing or unknown message_type %q", ErrMalformed, a.Type)
	}

	switch a.Type {
	case MessageAction:
		if a.Action == "" {
			return fmt.Errorf("%w: action message missing %q", ErrMalformed, "action")
		}
		if a.ActionID == "" {
			return fmt.Errorf("%w: action message missing %q", ErrMalformed, "action_id")
		}
	case MessageOutcome:
		if a.ActionID == "" {
			return fmt.Errorf("%w: outcome message missing %q", ErrMalformed, "action_id")
		}
		switch a.Status {
		case OutcomeSuccess, OutcomeFailure:
		default:
			return fmt.Errorf("%w: outcome message has unknown status %q", ErrMalformed, a.Status)
		}
	case MessageEvent:
		if a.Event == "" {
			return fmt.Errorf("%w: event message missing %q", ErrMalformed, "event")
		}
	case MessageStream:
		if a.StreamID == "" {
			return fmt.Errorf("%w: stream message missing %q", ErrMalformed, "stream_id")
		}
		if a.Stream == "" {
			return fmt.Errorf("%w: stream message missing %q", ErrMalformed, "stream")
		}
		if a.Sequence < 0 {
			return fmt.Errorf("%w: stream message has negative sequence %d", ErrMalformed, a.Sequence)
		}
	case MessageRegistration:
		if a.ClientInfo == nil {
			return fmt.Errorf("%w: registration message missing %q", ErrMalformed, "client_info")
		}
		if err := a.ClientInfo.Validate(); err != nil {
			return err
		}
	}

	*m = Message(a)
	return nil
}

// MarshalJSON emits only the fields relevant to m.Type, so the wire object
// never leaks zero-valued fields from other kinds.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageAction:
		return json.Marshal(struct {
			Type       MessageType    `json:"message_type"`
			Action     string         `json:"action"`
			ActionID   string         `json:"action_id"`
			Parameters map[string]any `json:"parameters,omitempty"`
		}{m.Type, m.Action, m.ActionID, m.Parameters})
	case MessageOutcome:
		return json.Marshal(struct {
			Type     MessageType    `json:"message_type"`
			ActionID string         `json:"action_id"`
			Status   OutcomeStatus  `json:"status"`
			Outcome  map[string]any `json:"outcome,omitempty"`
		}{m.Type, m.ActionID, m.Status, m.Outcome})
	case MessageEvent:
		return json.Marshal(struct {
			Type    MessageType    `json:"message_type"`
			Event   string         `json:"event"`
			EventID string         `json:"event_id,omitempty"`
			Data    map[string]any `json:"data,omitempty"`
		}{m.Type, m.Event, m.EventID, m.Data})
	case MessageStream:
		return json.Marshal(struct {
			Type     MessageType    `json:"message_type"`
			StreamID string         `json:"stream_id"`
			Stream   string         `json:"stream"`
			Sequence int64          `json:"sequence"`
			Chunk    map[string]any `json:"chunk,omitempty"`
		}{m.Type, m.StreamID, m.Stream, m.Sequence, m.Chunk})
	case MessageRegistration:
		return json.Marshal(struct {
			Type       MessageType `json:"message_type"`
			ClientInfo *ClientInfo `json:"client_info"`
		}{m.Type, m.ClientInfo})
	default:
		return nil, fmt.Errorf("protocol: cannot marshal message with unknown type %q", m.Type)
	}
}

// RequestID extracts the correlation id a reply should carry back to a
// pending context entry: action_id for outcomes, data.request_id (falling
// back to data.action_id) for events.
func (m Message) RequestID() string {
	switch m.Type {
	case MessageOutcome:
		return m.ActionID
	case MessageEvent:
		if v, ok := m.Data["request_id"].(string); ok && v != "" {
			return v
		}
		if v, ok := m.Data["action_id"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
