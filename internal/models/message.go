package models

import (
	"encoding/json"
	"time"
)

// Message represents a chat message as exchanged over REST and the push channel
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
	SenderID       int64           `json:"sender_id"`
	SenderName     string          `json:"sender_name"`
	Body           string          `json:"message"`
	Attachments    json.RawMessage `json:"attachments,omitempty"` // passed through untouched
	CreatedAt      time.Time       `json:"created_at"`
}

// IsMine reports whether the message was sent by the given user
func (m Message) IsMine(userID int64) bool {
	return m.SenderID == userID
}

// Summary builds the last-message preview shown in conversation lists
func (m Message) Summary() *MessageSummary {
	return &MessageSummary{
		Text:       m.Body,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		CreatedAt:  m.CreatedAt,
	}
}

// MessageSummary is the last-message preview of a conversation
type MessageSummary struct {
	Text       string    `json:"text"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Page is one page of a paginated message history.
// Page 1 holds the newest messages; Data is id-ascending within a page.
type Page struct {
	Data        []Message `json:"data"`
	CurrentPage int       `json:"current_page"`
	LastPage    int       `json:"last_page"`
	PerPage     int       `json:"per_page"`
	Total       int       `json:"total"`
}

// HasMore reports whether older pages exist
func (p Page) HasMore() bool {
	return p.CurrentPage < p.LastPage
}
