package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMessageUnmarshalRequiredFields(t *testing.T) {
	cases := map[string]string{
		"action missing action_id":     `{"message_type":"action","action":"move"}`,
		"action missing action":        `{"message_type":"action","action_id":"req-1"}`,
		"outcome missing action_id":    `{"message_type":"outcome","status":"success"}`,
		"outcome bad status":           `{"message_type":"outcome","action_id":"req-1","status":"maybe"}`,
		"event missing event":          `{"message_type":"event","event_id":"evt-1"}`,
		"stream missing stream_id":     `{"message_type":"stream","stream":"log","sequence":0}`,
		"stream missing stream":        `{"message_type":"stream","stream_id":"s1","sequence":0}`,
		"stream negative sequence":     `{"message_type":"stream","stream_id":"s1","stream":"log","sequence":-1}`,
		"registration missing info":    `{"message_type":"registration"}`,
		"registration bad client_type": `{"message_type":"registration","client_info":{"client_id":"a1","client_type":"robot"}}`,
		"unknown discriminator":        `{"message_type":"bogus"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m Message
			err := json.Unmarshal([]byte(raw), &m)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestMessageMarshalOmitsOtherKinds(t *testing.T) {
	m := NewActionMessage("move", "req-1", map[string]any{"direction": "north"})
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, absent := range []string{"event", "stream_id", "client_info", "outcome"} {
		if _, ok := fields[absent]; ok {
			t.Fatalf("expected %q to be absent from action wire form, got %s", absent, raw)
		}
	}
	for _, present := range []string{"message_type", "action", "action_id", "parameters"} {
		if _, ok := fields[present]; !ok {
			t.Fatalf("expected %q present in action wire form, got %s", present, raw)
		}
	}
}

func TestRequestIDFromOutcome(t *testing.T) {
	m := NewOutcomeMessage("req-42", OutcomeSuccess, nil)
	if got := m.RequestID(); got != "req-42" {
		t.Fatalf("got %q, want req-42", got)
	}
}

func TestRequestIDFromEventData(t *testing.T) {
	m := NewEventMessage("custom_reply", "evt-1", map[string]any{"request_id": "req-7"})
	if got := m.RequestID(); got != "req-7" {
		t.Fatalf("got %q, want req-7", got)
	}

	m2 := NewEventMessage("custom_reply", "evt-2", map[string]any{"action_id": "req-8"})
	if got := m2.RequestID(); got != "req-8" {
		t.Fatalf("got %q, want req-8", got)
	}
}

func TestRequestIDAbsentForPlainEvent(t *testing.T) {
	m := NewEventMessage("tick", "evt-3", map[string]any{"t": 1})
	if got := m.RequestID(); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestClientInfoValidate(t *testing.T) {
	if err := (ClientInfo{}).Validate(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty client info, got %v", err)
	}
	if err := (ClientInfo{ClientID: "a1", ClientType: "robot"}).Validate(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for bad client type, got %v", err)
	}
	if err := (ClientInfo{ClientID: "a1", ClientType: ClientAgent}).Validate(); err != nil {
		t.Fatalf("expected valid client info, got %v", err)
	}
}
