package client

import (
	"context"
	"log/slog"
	"time"

	"starhub/protocol"
)

// Agent is a Client fixed to ClientAgent, used to execute actions against
// an environment and receive their outcomes.
type Agent struct {
	*Client
	EnvID string
}

// NewAgent constructs an agent client bound to envID.
func NewAgent(agentID, envID, hubURL string, metadata map[string]any, log *slog.Logger, opts ...Option) *Agent {
	info := protocol.ClientInfo{
		ClientID:   agentID,
		ClientType: protocol.ClientAgent,
		EnvID:      envID,
		Metadata:   metadata,
	}
	return &Agent{Client: New(info, hubURL, log, opts...), EnvID: envID}
}

// Act sends an action to the environment and waits for its outcome.
func (a *Agent) Act(ctx context.Context, action string, parameters map[string]any, timeout time.Duration) (protocol.Message, error) {
	return a.SendActionWithContext(ctx, action, parameters, a.EnvID, timeout)
}
