// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectionChanged EventType = "connection_changed"
	EventDataReceived      EventType = "data_received"
	EventSignalProcessed   EventType = "signal_processed"
	EventError             EventType = "error"
	EventCommandCompleted  EventType = "command_completed"
	EventSequenceProgress  EventType = "sequence_progress"
	EventSequenceFinished  EventType = "sequence_finished"
)

// Event represents an event in the system
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps a new event with an ID and the current time
func NewEvent(eventType EventType, source string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}
