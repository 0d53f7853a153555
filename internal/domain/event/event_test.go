package event

import "testing"

func TestNewEvent(t *testing.T) {
	e := NewEvent(TypeWorkflowCreated, 42, "PR-2026-0001", map[string]interface{}{"amount": 30000.0})

	if e.ID == "" {
		t.Error("NewEvent() should generate an ID")
	}
	if e.CorrelationID == "" {
		t.Error("NewEvent() should generate a correlation ID")
	}
	if e.WorkflowID != 42 {
		t.Errorf("WorkflowID = %d, want 42", e.WorkflowID)
	}
	if e.Timestamp.IsZero() {
		t.Error("NewEvent() should set a timestamp")
	}
}

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		eventType Type
		expected  bool
	}{
		{TypeWorkflowCreated, true},
		{TypeWorkflowEscalated, true},
		{TypeMatrixChanged, true},
		{Type("workflow.unknown"), false},
		{Type(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.expected {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEvent_WithPayload(t *testing.T) {
	e := NewEvent(TypeWorkflowApproved, 7, "PO-1", map[string]interface{}{"level": 1})
	e2 := e.WithPayload("actor", "u-100")

	if _, ok := e.Payload["actor"]; ok {
		t.Error("WithPayload() must not mutate the original event")
	}
	if e2.Payload["actor"] != "u-100" {
		t.Error("WithPayload() should add the entry to the copy")
	}
	if e2.ID != e.ID || e2.CorrelationID != e.CorrelationID {
		t.Error("WithPayload() should preserve identity fields")
	}
}
