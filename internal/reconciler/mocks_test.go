package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"ngabarin/messaging/internal/gateway"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/typing"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetConversation(ctx context.Context, conversationID int64, page, perPage int) (*models.ConversationDetail, error) {
	args := m.Called(ctx, conversationID, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConversationDetail), args.Error(1)
}

func (m *mockAPI) SendMessage(ctx context.Context, conversationID int64, text string) (*models.Message, error) {
	args := m.Called(ctx, conversationID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockAPI) MarkAsRead(ctx context.Context, conversationID int64) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *mockAPI) SetTyping(ctx context.Context, conversationID int64, isTyping bool) error {
	return m.Called(ctx, conversationID, isTyping).Error(0)
}

func (m *mockAPI) ListConversations(ctx context.Context, search string, page, perPage int) (*models.ConversationList, error) {
	args := m.Called(ctx, search, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConversationList), args.Error(1)
}

func (m *mockAPI) FindOrCreate(ctx context.Context, userID int64) (*models.FindOrCreateResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FindOrCreateResponse), args.Error(1)
}

func (m *mockAPI) Leave(ctx context.Context, conversationID int64) error {
	return m.Called(ctx, conversationID).Error(0)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Connected() bool {
	return m.Called().Bool(0)
}

func (m *mockSubscriber) Subscribe(conversationID int64, l gateway.Listener) {
	m.Called(conversationID, l)
}

func (m *mockSubscriber) Unsubscribe(conversationID int64) {
	m.Called(conversationID)
}

// manualClock never fires on its own; tests call fire.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return true
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) typing.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func msg(id int64, sender int64, body string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: 42,
		SenderID:       sender,
		SenderName:     "user",
		Body:           body,
		CreatedAt:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
}

func detail(conversationID int64, page, lastPage int, msgs ...models.Message) *models.ConversationDetail {
	return &models.ConversationDetail{
		Conversation: models.Conversation{ID: conversationID, Kind: models.KindDirect},
		Messages: models.Page{
			Data:        msgs,
			CurrentPage: page,
			LastPage:    lastPage,
			PerPage:     DefaultPageSize,
			Total:       len(msgs),
		},
	}
}
