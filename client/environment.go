package client

import (
	"log/slog"

	"starhub/internal/ids"
	"starhub/protocol"
)

// Environment is a Client fixed to ClientEnvironment, used to receive
// agent actions and reply with outcomes, or to broadcast events to every
// agent sharing its env_id.
type Environment struct {
	*Client
	EnvID string
}

// NewEnvironment constructs an environment client. client_id equals
// env_id: an environment is addressed by the world it simulates.
func NewEnvironment(envID, hubURL string, metadata map[string]any, log *slog.Logger, opts ...Option) *Environment {
	info := protocol.ClientInfo{
		ClientID:   envID,
		ClientType: protocol.ClientEnvironment,
		EnvID:      envID,
		Metadata:   metadata,
	}
	return &Environment{Client: New(info, hubURL, log, opts...), EnvID: envID}
}

// SendOutcome replies to an agent's action.
func (e *Environment) SendOutcome(actionID string, status protocol.OutcomeStatus, outcome map[string]any, recipient string) error {
	msg := protocol.NewOutcomeMessage(actionID, status, outcome)
	return e.SendMessage(msg, recipient)
}

// SendEvent emits an event to recipient, or to every connection sharing
// this environment's env_id when recipient is empty.
func (e *Environment) SendEvent(event string, data map[string]any, recipient string) (string, error) {
	eventID, err := ids.New()
	if err != nil {
		return "", err
	}
	msg := protocol.NewEventMessage(event, eventID, data)
	if recipient == "" {
		recipient = protocol.BroadcastRecipient
	}
	return eventID, e.SendMessage(msg, recipient)
}
