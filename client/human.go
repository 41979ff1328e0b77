package client

import (
	"log/slog"

	"starhub/internal/ids"
	"starhub/protocol"
)

// Human is a Client fixed to ClientHuman, used by an observer to watch
// agent/environment traffic and optionally inject events or stream chunks.
type Human struct {
	*Client
}

// NewHuman constructs a human observer client. envID is optional: a human
// without one observes hub-wide broadcasts only.
func NewHuman(humanID, envID, hubURL string, metadata map[string]any, log *slog.Logger, opts ...Option) *Human {
	info := protocol.ClientInfo{
		ClientID:   humanID,
		ClientType: protocol.ClientHuman,
		EnvID:      envID,
		Metadata:   metadata,
	}
	return &Human{Client: New(info, hubURL, log, opts...)}
}

// SendEvent emits an observation event to recipient, or broadcasts it when
// recipient is empty.
func (h *Human) SendEvent(event string, data map[string]any, recipient string) (string, error) {
	eventID, err := ids.New()
	if err != nil {
		return "", err
	}
	msg := protocol.NewEventMessage(event, eventID, data)
	if recipient == "" {
		recipient = protocol.BroadcastRecipient
	}
	return eventID, h.SendMessage(msg, recipient)
}

// SendStream emits one stream chunk to recipient, or broadcasts it when
// recipient is empty.
func (h *Human) SendStream(stream, streamID string, sequence int64, chunk map[string]any, recipient string) (string, error) {
	if streamID == "" {
		var err error
		streamID, err = ids.New()
		if err != nil {
			return "", err
		}
	}
	msg := protocol.NewStreamMessage(streamID, stream, sequence, chunk)
	if recipient == "" {
		recipient = protocol.BroadcastRecipient
	}
	return streamID, h.SendMessage(msg, recipient)
}
