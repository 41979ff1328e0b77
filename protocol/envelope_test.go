package protocol

import (
	"errors"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	actionEnv, actionErr := NewMessageEnvelope("a1", "env1", NewActionMessage("move", "req-1", map[string]any{"direction": "north"}))
	outcomeEnv, outcomeErr := NewMessageEnvelope("env1", "a1", NewOutcomeMessage("req-1", OutcomeSuccess, map[string]any{"pos": []any{float64(1), float64(0)}}))
	eventEnv, eventErr := NewMessageEnvelope("env1", BroadcastRecipient, NewEventMessage("tick", "evt-1", map[string]any{"t": float64(1)}))
	streamEnv, streamErr := NewMessageEnvelope("h1", BroadcastRecipient, NewStreamMessage("s1", "log", 3, map[string]any{"line": "hello"}))
	registrationEnv, registrationErr := NewMessageEnvelope("a1", "hub", NewRegistrationMessage(ClientInfo{ClientID: "a1", ClientType: ClientAgent, EnvID: "env1"}))
	errorEnv, errorErr := NewErrorEnvelope("hub", "a1", "bad frame", map[string]any{"reason": "oops"})
	heartbeatEnv, heartbeatErr := NewHeartbeatEnvelope("a1")

	cases := []struct {
		name string
		env  Envelope
	}{
		{
			name: "action",
			env:  mustEnvelope(t, actionEnv, actionErr),
		},
		{
			name: "outcome",
			env:  mustEnvelope(t, outcomeEnv, outcomeErr),
		},
		{
			name: "event broadcast",
			env:  mustEnvelope(t, eventEnv, eventErr),
		},
		{
			name: "stream",
			env:  mustEnvelope(t, streamEnv, streamErr),
		},
		{
			name: "registration",
			env:  mustEnvelope(t, registrationEnv, registrationErr),
		},
		{
			name: "error",
			env:  mustEnvelope(t, errorEnv, errorErr),
		},
		{
			name: "heartbeat",
			env:  mustEnvelope(t, heartbeatEnv, heartbeatErr),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Type != tc.env.Type || got.Sender != tc.env.Sender || got.Recipient != tc.env.Recipient {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, tc.env)
			}
			if got.EnvelopeID != tc.env.EnvelopeID || got.Timestamp != tc.env.Timestamp {
				t.Fatalf("round trip id/timestamp mismatch: got %+v want %+v", got, tc.env)
			}
		})
	}
}

func mustEnvelope(t *testing.T, e Envelope, err error) Envelope {
	t.Helper()
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return e
}

func TestDecodeMalformedMissingTopLevelField(t *testing.T) {
	cases := map[string]string{
		"missing type":      `{"sender":"a1","recipient":"hub"}`,
		"missing sender":    `{"type":"heartbeat","recipient":"hub"}`,
		"missing recipient": `{"type":"heartbeat","sender":"a1"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeMalformedUnknownEnvelopeType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus","sender":"a1","recipient":"hub"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeMalformedMissingMessageForNonHeartbeat(t *testing.T) {
	_, err := Decode([]byte(`{"type":"message","sender":"a1","recipient":"hub"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeHeartbeatWithoutMessage(t *testing.T) {
	env, err := Decode([]byte(`{"type":"heartbeat","sender":"a1","recipient":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != EnvelopeHeartbeat {
		t.Fatalf("expected heartbeat type, got %v", env.Type)
	}
	if env.EnvelopeID == "" {
		t.Fatalf("expected a minted envelope id")
	}
}

func TestDecodeBackfillsEnvelopeIDAndTimestamp(t *testing.T) {
	env, err := Decode([]byte(`{"type":"heartbeat","sender":"a1","recipient":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EnvelopeID == "" {
		t.Fatalf("expected envelope_id to be backfilled")
	}
	if env.Timestamp == 0 {
		t.Fatalf("expected timestamp to be backfilled")
	}
}

func TestErrorEnvelopeRequiresErrorMessage(t *testing.T) {
	_, err := Decode([]byte(`{"type":"error","sender":"hub","recipient":"a1","message":{"details":{}}}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
