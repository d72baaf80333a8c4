package models

import (
	"fmt"
	"time"
)

// ConversationKind distinguishes two-party threads from group threads
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// UnmarshalText rejects anything but the two known kinds
func (k *ConversationKind) UnmarshalText(text []byte) error {
	switch ConversationKind(text) {
	case KindDirect, KindGroup:
		*k = ConversationKind(text)
		return nil
	default:
		return fmt.Errorf("unknown conversation type %q", string(text))
	}
}

// Conversation represents a direct or group messaging thread
type Conversation struct {
	ID             int64            `json:"id"`
	Kind           ConversationKind `json:"type"`
	Name           string           `json:"name,omitempty"` // Stored name, groups only
	Participants   []Participant    `json:"participants,omitempty"`
	LastMessage    *MessageSummary  `json:"last_message,omitempty"`
	UnreadCount    int              `json:"unread_count"`
	LastActivityAt time.Time        `json:"last_activity_at"`
}

// DisplayName returns the counterpart's name for direct conversations
// and the stored name for groups
func (c Conversation) DisplayName(currentUserID int64) string {
	if c.Kind == KindGroup {
		return c.Name
	}
	for _, p := range c.Participants {
		if p.UserID != currentUserID {
			return p.Name
		}
	}
	return c.Name
}

// Touch applies a new message to the preview and activity timestamp
func (c *Conversation) Touch(msg Message) {
	c.LastMessage = msg.Summary()
	if msg.CreatedAt.After(c.LastActivityAt) {
		c.LastActivityAt = msg.CreatedAt
	}
}
