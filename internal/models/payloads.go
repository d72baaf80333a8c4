package models

// ConversationList is the response of GET /conversations
type ConversationList struct {
	Conversations    []Conversation `json:"conversations"`
	TotalUnreadCount int            `json:"total_unread_count"`
}

// ConversationDetail is the response of GET /conversations/{id}
type ConversationDetail struct {
	Conversation Conversation  `json:"conversation"`
	Messages     Page          `json:"messages"`
	Participants []Participant `json:"participants"`
}

// FindOrCreateRequest is the body of POST /conversations/find-or-create
type FindOrCreateRequest struct {
	UserID int64 `json:"user_id"`
}

// FindOrCreateResponse is the response of POST /conversations/find-or-create
type FindOrCreateResponse struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

// SendMessageResponse is the response of POST /messages
type SendMessageResponse struct {
	Message Message `json:"message"`
}

// TypingRequest is the body of POST /typing
type TypingRequest struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
