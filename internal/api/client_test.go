package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/v1/", "secret-token", time.Second, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ListConversations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "budi", r.URL.Query().Get("search"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"conversations": []map[string]interface{}{
				{"id": 7, "type": "direct", "unread_count": 2},
				{"id": 8, "type": "group", "name": "Tim", "unread_count": 1},
			},
			"total_unread_count": 3,
		})
	})
	client := newTestClient(t, mux)

	list, err := client.ListConversations(context.Background(), "budi", 1, 50)
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, 3, list.TotalUnreadCount)
	assert.Equal(t, models.KindGroup, list.Conversations[1].Kind)
}

func TestClient_GetConversation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.PathValue("id"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		writeJSON(w, http.StatusOK, models.ConversationDetail{
			Conversation: models.Conversation{ID: 42, Kind: models.KindDirect},
			Messages: models.Page{
				Data:        []models.Message{{ID: 1, ConversationID: 42, Body: "Halo"}},
				CurrentPage: 2,
				LastPage:    3,
				PerPage:     50,
				Total:       120,
			},
		})
	})
	client := newTestClient(t, mux)

	detail, err := client.GetConversation(context.Background(), 42, 2, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 42, detail.Conversation.ID)
	assert.True(t, detail.Messages.HasMore())
	assert.Equal(t, "Halo", detail.Messages.Data[0].Body)
}

func TestClient_SendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 42, req.ConversationID)

		writeJSON(w, http.StatusCreated, models.SendMessageResponse{
			Message: models.Message{ID: 100, ConversationID: 42, SenderID: 1, Body: req.Message},
		})
	})
	client := newTestClient(t, mux)

	msg, err := client.SendMessage(context.Background(), 42, "Merhaba")
	require.NoError(t, err)
	assert.EqualValues(t, 100, msg.ID)
	assert.Equal(t, "Merhaba", msg.Body)
}

func TestClient_NoContentEndpoints(t *testing.T) {
	var hits []string
	mux := http.NewServeMux()
	noContent := func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("POST /api/v1/conversations/{id}/mark-as-read", noContent)
	mux.HandleFunc("POST /api/v1/conversations/{id}/leave", noContent)
	mux.HandleFunc("POST /api/v1/typing", func(w http.ResponseWriter, r *http.Request) {
		var req models.TypingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.IsTyping)
		noContent(w, r)
	})
	client := newTestClient(t, mux)

	ctx := context.Background()
	require.NoError(t, client.MarkAsRead(ctx, 7))
	require.NoError(t, client.Leave(ctx, 7))
	require.NoError(t, client.SetTyping(ctx, 7, true))

	assert.Equal(t, []string{
		"/api/v1/conversations/7/mark-as-read",
		"/api/v1/conversations/7/leave",
		"/api/v1/typing",
	}, hits)
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       interface{}
		kind       Kind
		message    string
		transient  bool
		validation bool
	}{
		{
			name:       "validation",
			status:     http.StatusUnprocessableEntity,
			body:       models.ErrorResponse{Success: false, Error: "Message cannot be empty"},
			kind:       KindValidation,
			message:    "Message cannot be empty",
			validation: true,
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    models.ErrorResponse{Error: "Invalid or expired token"},
			kind:    KindUnauthorized,
			message: "Invalid or expired token",
		},
		{
			name:      "server error without envelope",
			status:    http.StatusBadGateway,
			kind:      KindTransient,
			message:   "Bad Gateway",
			transient: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      models.ErrorResponse{Error: "Too many requests"},
			kind:      KindTransient,
			message:   "Too many requests",
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			}))

			_, err := client.SendMessage(context.Background(), 1, "x")
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.validation, IsValidation(err))
		})
	}
}

func TestClient_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, "", 200*time.Millisecond, zap.NewNop())
	err := client.MarkAsRead(context.Background(), 1)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_CancelledContext(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.SetTyping(ctx, 1, false)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}
