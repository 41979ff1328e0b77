package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"starhub/internal/ids"
)

// ErrMalformed is the sentinel wrapped by every envelope decode failure.
// Callers match it with errors.Is; the wrapped text carries the detail for
// logs.
var ErrMalformed = errors.New("protocol: malformed envelope")

// Envelope is the routing record the hub looks at before touching the
// message inside it. The wire shape is one JSON object per frame: type,
// sender, recipient, message, envelope_id, timestamp.
type Envelope struct {
	Type       EnvelopeType    `json:"type"`
	Sender     string          `json:"sender"`
	Recipient  string          `json:"recipient"`
	Message    json.RawMessage `json:"message,omitempty"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Timestamp  float64         `json:"timestamp,omitempty"`
}

type envelopeWire Envelope

// NewMessageEnvelope builds a "message"-typed envelope wrapping msg, with a
// freshly minted envelope_id and the current wall time as timestamp.
func NewMessageEnvelope(sender, recipient string, msg Message) (Envelope, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode message: %w", err)
	}
	return newEnvelope(EnvelopeMessage, sender, recipient, raw)
}

// NewErrorEnvelope builds an "error"-typed envelope whose message carries
// error_message and optional details.
func NewErrorEnvelope(sender, recipient, errMessage string, details map[string]any) (Envelope, error) {
	raw, err := json.Marshal(ErrorPayload{ErrorMessage: errMessage, Details: details})
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode error payload: %w", err)
	}
	return newEnvelope(EnvelopeError, sender, recipient, raw)
}

// NewHeartbeatEnvelope builds a heartbeat envelope; message stays absent.
func NewHeartbeatEnvelope(sender string) (Envelope, error) {
	return newEnvelope(EnvelopeHeartbeat, sender, "", nil)
}

func newEnvelope(t EnvelopeType, sender, recipient string, message json.RawMessage) (Envelope, error) {
	id, err := ids.New()
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: mint envelope id: %w", err)
	}
	return Envelope{
		Type:       t,
		Sender:     sender,
		Recipient:  recipient,
		Message:    message,
		EnvelopeID: id,
		Timestamp:  nowSeconds(),
	}, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Encode serialises e to its wire form.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(envelopeWire(e))
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses one wire frame into an Envelope. type, sender, and
// recipient must be present; a non-heartbeat envelope must carry a valid
// message. Missing envelope_id/timestamp are backfilled with the
// construction defaults rather than rejected, since a lenient hub should
// not punish a client for omitting an optional field.
func Decode(data []byte) (Envelope, error) {
	var presence map[string]json.RawMessage
	if err := json.Unmarshal(data, &presence); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid json: %v", ErrMalformed, err)
	}
	for _, key := range []string{"type", "sender", "recipient"} {
		if _, ok := presence[key]; !ok {
			return Envelope{}, fmt.Errorf("%w: missing field %q", ErrMalformed, key)
		}
	}

	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	e := Envelope(wire)

	if !e.Type.valid() {
		return Envelope{}, fmt.Errorf("%w: unknown envelope type %q", ErrMalformed, e.Type)
	}

	if e.Type != EnvelopeHeartbeat {
		if len(e.Message) == 0 || string(e.Message) == "null" {
			return Envelope{}, fmt.Errorf("%w: missing message for envelope type %q", ErrMalformed, e.Type)
		}
		switch e.Type {
		case EnvelopeMessage:
			if _, err := e.AsMessage(); err != nil {
				return Envelope{}, err
			}
		case EnvelopeError:
			if _, err := e.AsError(); err != nil {
				return Envelope{}, err
			}
		}
	}

	if e.EnvelopeID == "" {
		id, err := ids.New()
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: mint envelope id: %w", err)
		}
		e.EnvelopeID = id
	}
	if e.Timestamp == 0 {
		e.Timestamp = nowSeconds()
	}
	return e, nil
}

// AsMessage decodes the envelope's message field as a Message, validating
// the message_type discriminator and its kind-specific required fields.
// Only meaningful when Type == EnvelopeMessage.
func (e Envelope) AsMessage() (Message, error) {
	var m Message
	if err := json.Unmarshal(e.Message, &m); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// AsError decodes the envelope's message field as an ErrorPayload. Only
// meaningful when Type == EnvelopeError.
func (e Envelope) AsError() (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(e.Message, &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("%w: invalid error payload: %v", ErrMalformed, err)
	}
	if p.ErrorMessage == "" {
		return ErrorPayload{}, fmt.Errorf("%w: error payload missing error_message", ErrMalformed)
	}
	return p, nil
}

// ErrorPayload is the message shape carried by an "error"-typed envelope.
type ErrorPayload struct {
	ErrorMessage string         `json:"error_message"`
	Details      map[string]any `json:"details,omitempty"`
}
