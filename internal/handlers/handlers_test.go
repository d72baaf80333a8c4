package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/database"
	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/models"
	ws "ngabarin/messaging/internal/websocket"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) ListConversations(ctx context.Context, userID int64, search string, page, perPage int) ([]models.Conversation, int, error) {
	args := m.Called(ctx, userID, search, page, perPage)
	convs, _ := args.Get(0).([]models.Conversation)
	return convs, args.Int(1), args.Error(2)
}

func (m *mockStore) GetConversation(ctx context.Context, conversationID, userID int64) (*models.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	c, _ := args.Get(0).(*models.Conversation)
	return c, args.Error(1)
}

func (m *mockStore) Messages(ctx context.Context, conversationID int64, page, perPage int) (models.Page, error) {
	args := m.Called(ctx, conversationID, page, perPage)
	return args.Get(0).(models.Page), args.Error(1)
}

func (m *mockStore) FindOrCreateDirect(ctx context.Context, userID, otherID int64) (*models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID)
	c, _ := args.Get(0).(*models.Conversation)
	return c, args.Bool(1), args.Error(2)
}

func (m *mockStore) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, body)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockStore) MarkAsRead(ctx context.Context, conversationID, userID int64) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *mockStore) Leave(ctx context.Context, conversationID, userID int64) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *mockStore) UserName(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *mockStore) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

type broadcast struct {
	userIDs        []int64
	conversationID int64
	exclude        int64
	event          models.Event
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (f *fakeHub) BroadcastToUsers(userIDs []int64, event models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcast{userIDs: userIDs, conversationID: event.ConversationID, event: event})
}

func (f *fakeHub) BroadcastToSubscribers(conversationID int64, event models.Event, excludeUserID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcast{conversationID: conversationID, exclude: excludeUserID, event: event})
}

func (f *fakeHub) Serve(ws.Conn, int64) {}
func (f *fakeHub) GetOnlineCount() int { return 2 }
func (f *fakeHub) GetOnlineUsers() []int64 { return []int64{1, 9} }

func (f *fakeHub) broadcasts() []broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcast(nil), f.sent...)
}

const me int64 = 1

type fixture struct {
	app   *fiber.App
	store *mockStore
	hub   *fakeHub
	m     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: &mockStore{}, hub: &fakeHub{}, m: metrics.New()}
	h := New(f.store, f.hub, zap.NewNop(), f.m)

	f.app = fiber.New()
	f.app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", me)
		c.Locals("userName", "Andi")
		return c.Next()
	})
	f.app.Get("/conversations", h.ListConversations)
	f.app.Post("/conversations/find-or-create", h.FindOrCreate)
	f.app.Get("/conversations/:id", h.GetConversation)
	f.app.Post("/conversations/:id/mark-as-read", h.MarkAsRead)
	f.app.Post("/conversations/:id/leave", h.Leave)
	f.app.Post("/messages", h.SendMessage)
	f.app.Post("/typing", h.Typing)
	f.app.Get("/ws", h.WebSocketUpgrade)
	f.app.Get("/ws/stats", h.WebSocketStats)
	f.app.Get("/health", h.Health)

	t.Cleanup(func() { f.store.AssertExpectations(t) })
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var e models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.False(t, e.Success)
	return e.Error
}

var at = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	f.store.On("ListConversations", mock.Anything, me, "budi", 2, 20).Return([]models.Conversation{
		{ID: 7, Kind: models.KindDirect, UnreadCount: 3, LastActivityAt: at},
	}, 3, nil)

	resp, body := f.do(t, "GET", "/conversations?search=budi&page=2&per_page=20", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var list models.ConversationList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Conversations, 1)
	assert.EqualValues(t, 7, list.Conversations[0].ID)
	assert.Equal(t, 3, list.TotalUnreadCount)
}

func TestListConversationsEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	f.store.On("ListConversations", mock.Anything, me, "", 1, defaultPerPage).Return(nil, 0, nil)

	_, body := f.do(t, "GET", "/conversations", nil)
	assert.JSONEq(t, `{"conversations":[],"total_unread_count":0}`, string(body))
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)
	participants := []models.Participant{{UserID: me, Name: "Andi"}, {UserID: 9, Name: "Siti"}}
	f.store.On("GetConversation", mock.Anything, int64(42), me).
		Return(&models.Conversation{ID: 42, Kind: models.KindDirect, Participants: participants}, nil)
	f.store.On("Messages", mock.Anything, int64(42), 1, defaultPerPage).Return(models.Page{
		Data:        []models.Message{{ID: 1, ConversationID: 42, SenderID: 9, Body: "Halo", CreatedAt: at}},
		CurrentPage: 1,
		LastPage:    3,
		PerPage:     50,
		Total:       101,
	}, nil)

	resp, body := f.do(t, "GET", "/conversations/42", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var detail models.ConversationDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.EqualValues(t, 42, detail.Conversation.ID)
	assert.Len(t, detail.Participants, 2)
	assert.True(t, detail.Messages.HasMore())
	assert.Equal(t, "Halo", detail.Messages.Data[0].Body)
}

func TestGetConversationErrors(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		err     error
		status  int
		message string
	}{
		{"bad id", "/conversations/abc", nil, fiber.StatusBadRequest, "Invalid conversation ID"},
		{"missing", "/conversations/5", database.ErrNotFound, fiber.StatusNotFound, "Conversation not found"},
		{"forbidden", "/conversations/5", database.ErrNotParticipant, fiber.StatusForbidden, "Not a participant of this conversation"},
		{"database down", "/conversations/5", errors.New("connection refused"), fiber.StatusInternalServerError, "Failed to get conversation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.err != nil {
				f.store.On("GetConversation", mock.Anything, int64(5), me).Return(nil, tt.err)
			}

			resp, body := f.do(t, "GET", tt.target, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.message, errorMessage(t, body))
		})
	}
}

func TestFindOrCreate(t *testing.T) {
	f := newFixture(t)
	f.store.On("FindOrCreateDirect", mock.Anything, me, int64(9)).Return(&models.Conversation{ID: 12, Kind: models.KindDirect}, true, nil)
	f.store.On("Messages", mock.Anything, int64(12), 1, defaultPerPage).Return(models.Page{CurrentPage: 1, LastPage: 1}, nil)

	resp, body := f.do(t, "POST", "/conversations/find-or-create", models.FindOrCreateRequest{UserID: 9})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var res models.FindOrCreateResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.EqualValues(t, 12, res.Conversation.ID)
	assert.NotNil(t, res.Messages)
}

func TestFindOrCreateValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/conversations/find-or-create", models.FindOrCreateRequest{UserID: me})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Cannot start a conversation with yourself", errorMessage(t, body))

	resp, _ = f.do(t, "POST", "/conversations/find-or-create", models.FindOrCreateRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	f.store.On("FindOrCreateDirect", mock.Anything, me, int64(404)).Return(nil, false, database.ErrUserNotFound)
	resp, body = f.do(t, "POST", "/conversations/find-or-create", models.FindOrCreateRequest{UserID: 404})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "User not found", errorMessage(t, body))
}

func TestMarkAsReadAndLeave(t *testing.T) {
	f := newFixture(t)
	f.store.On("MarkAsRead", mock.Anything, int64(7), me).Return(nil)
	f.store.On("Leave", mock.Anything, int64(7), me).Return(nil)
	f.store.On("Leave", mock.Anything, int64(8), me).Return(database.ErrNotParticipant)

	resp, body := f.do(t, "POST", "/conversations/7/mark-as-read", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)

	resp, _ = f.do(t, "POST", "/conversations/7/leave", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, "POST", "/conversations/8/leave", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSendMessageFansOutToParticipants(t *testing.T) {
	f := newFixture(t)
	stored := &models.Message{ID: 100, ConversationID: 42, SenderID: me, SenderName: "Andi", Body: "Merhaba", CreatedAt: at}
	f.store.On("CreateMessage", mock.Anything, int64(42), me, "Merhaba").Return(stored, nil)
	f.store.On("ParticipantIDs", mock.Anything, int64(42)).Return([]int64{me, 9}, nil)

	resp, body := f.do(t, "POST", "/messages", models.SendMessageRequest{ConversationID: 42, Message: "  Merhaba "})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var res models.SendMessageResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.EqualValues(t, 100, res.Message.ID)

	sent := f.hub.broadcasts()
	require.Len(t, sent, 1)
	assert.Equal(t, []int64{me, 9}, sent[0].userIDs)
	assert.Equal(t, models.EventMessageCreated, sent[0].event.Type)

	var pushed models.Message
	require.NoError(t, json.Unmarshal(sent[0].event.Payload, &pushed))
	assert.Equal(t, *stored, pushed)
}

func TestSendMessageRejectsBlank(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, "POST", "/messages", models.SendMessageRequest{ConversationID: 42, Message: "   "})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Conversation ID and message are required", errorMessage(t, body))
	assert.Empty(t, f.hub.broadcasts())
}

func TestSendMessageStoreFailureDoesNotPush(t *testing.T) {
	f := newFixture(t)
	f.store.On("CreateMessage", mock.Anything, int64(42), me, "Merhaba").Return(nil, errors.New("disk full"))

	resp, _ := f.do(t, "POST", "/messages", models.SendMessageRequest{ConversationID: 42, Message: "Merhaba"})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, f.hub.broadcasts())
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	f.store.On("IsParticipant", mock.Anything, int64(7), me).Return(true, nil)

	resp, _ := f.do(t, "POST", "/typing", models.TypingRequest{ConversationID: 7, IsTyping: true})
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	sent := f.hub.broadcasts()
	require.Len(t, sent, 1)
	assert.EqualValues(t, 7, sent[0].conversationID)
	assert.Equal(t, me, sent[0].exclude)

	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(sent[0].event.Payload, &payload))
	assert.Equal(t, models.TypingPayload{UserID: me, UserName: "Andi", IsTyping: true}, payload)
}

func TestTypingForbidden(t *testing.T) {
	f := newFixture(t)
	f.store.On("IsParticipant", mock.Anything, int64(7), me).Return(false, nil)

	resp, _ := f.do(t, "POST", "/typing", models.TypingRequest{ConversationID: 7, IsTyping: true})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.hub.broadcasts())
}

func TestWebSocketEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "GET", "/ws", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	resp, body := f.do(t, "GET", "/ws/stats", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"data":{"onlineUsers":2,"userIds":[1,9]}}`, string(body))

	resp, _ = f.do(t, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
