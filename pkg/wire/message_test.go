package wire

import (
	"encoding/json"
	"testing"
)

func TestMethod_IsRPC(t *testing.T) {
	tests := []struct {
		method Method
		isRPC  bool
	}{
		{MethodGet, true},
		{MethodPost, true},
		{MethodPut, true},
		{MethodDelete, true},
		{MethodPub, false},
		{MethodSub, false},
		{MethodUnsub, false},
	}

	for _, tt := range tests {
		if got := tt.method.IsRPC(); got != tt.isRPC {
			t.Errorf("%s.IsRPC() = %v, want %v", tt.method, got, tt.isRPC)
		}
	}
}

func TestNewRequest(t *testing.T) {
	msg, err := NewRequest("req-1", MethodPost, "/api/tickets", map[string]string{"title": "Fix login"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	if msg.ID != "req-1" {
		t.Errorf("Expected ID req-1, got %s", msg.ID)
	}
	if msg.Method != MethodPost {
		t.Errorf("Expected method POST, got %s", msg.Method)
	}
	if msg.Path != "/api/tickets" {
		t.Errorf("Expected path /api/tickets, got %s", msg.Path)
	}

	var body map[string]string
	if err := msg.ParseData(&body); err != nil {
		t.Fatalf("ParseData failed: %v", err)
	}
	if body["title"] != "Fix login" {
		t.Errorf("Expected title in data, got %v", body)
	}
}

func TestNewRequest_NilData(t *testing.T) {
	msg, err := NewRequest("req-2", MethodGet, "/api/agents", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if msg.Data != nil {
		t.Errorf("Expected nil data, got %s", msg.Data)
	}

	// ParseData on a nil payload is a no-op
	var out map[string]string
	if err := msg.ParseData(&out); err != nil {
		t.Errorf("ParseData on nil data failed: %v", err)
	}
}

func TestNewResponse(t *testing.T) {
	msg, err := NewResponse("req-1", map[string]interface{}{"id": "t1"})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	if msg.ID != "req-1" {
		t.Errorf("Expected ID req-1, got %s", msg.ID)
	}
	if msg.IsError() {
		t.Error("Expected success response")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("req-1", ErrorCodeNotFound, "ticket not found")

	if !msg.IsError() {
		t.Fatal("Expected error response")
	}
	if msg.Error.Code != ErrorCodeNotFound {
		t.Errorf("Expected code %s, got %s", ErrorCodeNotFound, msg.Error.Code)
	}
	if msg.Error.Message != "ticket not found" {
		t.Errorf("Unexpected message %q", msg.Error.Message)
	}
}

func TestNewPublish(t *testing.T) {
	msg, err := NewPublish(TopicTickets, map[string]string{"type": "ticket:created"})
	if err != nil {
		t.Fatalf("NewPublish failed: %v", err)
	}
	if msg.Method != MethodPub {
		t.Errorf("Expected method PUB, got %s", msg.Method)
	}
	if msg.Path != TopicTickets {
		t.Errorf("Expected path %s, got %s", TopicTickets, msg.Path)
	}
	if msg.ID != "" {
		t.Errorf("Expected empty ID on push frame, got %s", msg.ID)
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	msg, err := NewRequest("req-7", MethodPut, "/api/tickets/t1", map[string]string{"status": "approved"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	msg.Query = map[string]string{"notify": "true"}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != "req-7" || decoded.Method != MethodPut || decoded.Path != "/api/tickets/t1" {
		t.Errorf("Envelope fields lost in round trip: %+v", decoded)
	}
	if decoded.Query["notify"] != "true" {
		t.Errorf("Query lost in round trip: %+v", decoded.Query)
	}
}

func TestMessage_Param(t *testing.T) {
	msg := &Message{Params: map[string]string{"id": "agent-1"}}
	if got := msg.Param("id"); got != "agent-1" {
		t.Errorf("Expected agent-1, got %s", got)
	}
	if got := msg.Param("missing"); got != "" {
		t.Errorf("Expected empty string for missing param, got %s", got)
	}

	var empty Message
	if got := empty.Param("id"); got != "" {
		t.Errorf("Expected empty string with nil params, got %s", got)
	}
}

func TestAgentTopics(t *testing.T) {
	if got := AgentTasksTopic("a1"); got != "/agents/a1/tasks" {
		t.Errorf("AgentTasksTopic: got %s", got)
	}
	if got := AgentStopTopic("a1"); got != "/agents/a1/stop" {
		t.Errorf("AgentStopTopic: got %s", got)
	}
}
