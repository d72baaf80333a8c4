package models

import (
	"encoding/json"
	"time"
)

// EventType represents the push channel event types
type EventType string

const (
	// Server -> client events
	EventMessageCreated EventType = "message.created"
	EventTypingChanged  EventType = "typing.changed"
	EventError          EventType = "error"

	// Client -> server commands
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
)

// Event is the envelope of every push channel frame
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent marshals the payload into an event envelope
func NewEvent(eventType EventType, conversationID int64, payload interface{}) (Event, error) {
	event := Event{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}
	if payload == nil {
		return event, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	event.Payload = data
	return event, nil
}

// TypingPayload represents typing indicator payload
type TypingPayload struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
