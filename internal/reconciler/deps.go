// Package reconciler merges paginated REST history with push channel events
// into one ordered, deduplicated view per conversation, and keeps the
// conversation list in activity order.
package reconciler

import (
	"context"

	"ngabarin/messaging/internal/gateway"
	"ngabarin/messaging/internal/models"
)

// API is the part of the REST client a conversation screen needs.
type API interface {
	GetConversation(ctx context.Context, conversationID int64, page, perPage int) (*models.ConversationDetail, error)
	SendMessage(ctx context.Context, conversationID int64, text string) (*models.Message, error)
	MarkAsRead(ctx context.Context, conversationID int64) error
	SetTyping(ctx context.Context, conversationID int64, isTyping bool) error
}

// ListAPI is the part of the REST client the conversation list needs.
type ListAPI interface {
	ListConversations(ctx context.Context, search string, page, perPage int) (*models.ConversationList, error)
	FindOrCreate(ctx context.Context, userID int64) (*models.FindOrCreateResponse, error)
	Leave(ctx context.Context, conversationID int64) error
	MarkAsRead(ctx context.Context, conversationID int64) error
}

// Subscriber routes push events of one conversation to a listener.
type Subscriber interface {
	Subscribe(conversationID int64, l gateway.Listener)
	Unsubscribe(conversationID int64)
	Connected() bool
}
