package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a lifecycle event of the recurring engine. It is appended
// to the configured routing key prefix when publishing.
type EventType string

const (
	EventTemplateCreated      EventType = "template.created"
	EventTemplatePaused       EventType = "template.paused"
	EventTemplateResumed      EventType = "template.resumed"
	EventTemplateStopped      EventType = "template.stopped"
	EventTemplateSplit        EventType = "template.split"
	EventTemplateDeleted      EventType = "template.deleted"
	EventOccurrencesGenerated EventType = "occurrences.generated"
	EventOccurrenceUpdated    EventType = "occurrence.updated"
	EventOccurrenceDeleted    EventType = "occurrence.deleted"
	EventDateSkipped          EventType = "date.skipped"

	// EventGenerateRequested asks a worker to run a scheduler pass.
	EventGenerateRequested EventType = "generate.requested"
)

// Event is a lightweight notification. Consumers fetch full records from the
// store when they need more than the identifiers carried here.
type Event struct {
	Type          EventType `json:"type"`
	TemplateID    string    `json:"template_id,omitempty"`
	SuccessorID   string    `json:"successor_id,omitempty"`
	OccurrenceIDs []string  `json:"occurrence_ids,omitempty"`
	Date          string    `json:"date,omitempty"`
	Count         int       `json:"count,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent creates an event for a template stamped with the current time.
func NewEvent(t EventType, templateID string) *Event {
	return &Event{
		Type:       t,
		TemplateID: templateID,
		Timestamp:  time.Now().UTC(),
	}
}

// RoutingKey joins the configured prefix with the event type.
func (e *Event) RoutingKey(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}

// ToJSON converts the message to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON creates an event from JSON bytes
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == "" {
		return nil, fmt.Errorf("event without type")
	}
	return &e, nil
}
