package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event emitted after a committed state change
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	WorkflowID    int64                  `json:"workflow_id"`
	ReferenceCode string                 `json:"reference_code"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a generated ID and timestamp
func NewEvent(eventType Type, workflowID int64, referenceCode string, payload map[string]interface{}) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		WorkflowID:    workflowID,
		ReferenceCode: referenceCode,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: uuid.NewString(),
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, workflowID int64, referenceCode string, payload map[string]interface{}, correlationID string) *Event {
	e := NewEvent(eventType, workflowID, referenceCode, payload)
	e.CorrelationID = correlationID
	return e
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	clone := *e
	clone.Payload = payload
	return &clone
}
