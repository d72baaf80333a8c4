// Package api is the REST client of the messaging backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/models"
)

const defaultTimeout = 10 * time.Second

// Client talks to the backend REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *fasthttp.Client
	logger     *zap.Logger
}

// NewClient creates a new REST client
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		httpClient: &fasthttp.Client{
			Name:                "ngabarin-messaging",
			MaxIdleConnDuration: 90 * time.Second,
		},
		logger: logger,
	}
}

// ListConversations fetches the conversation list with the server-computed unread total.
func (c *Client) ListConversations(ctx context.Context, search string, page, perPage int) (*models.ConversationList, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var out models.ConversationList
	if err := c.do(ctx, fasthttp.MethodGet, "/conversations", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConversation fetches one conversation with a page of its history.
func (c *Client) GetConversation(ctx context.Context, conversationID int64, page, perPage int) (*models.ConversationDetail, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(page, 1)))
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}

	var out models.ConversationDetail
	path := "/conversations/" + strconv.FormatInt(conversationID, 10)
	if err := c.do(ctx, fasthttp.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindOrCreate returns the direct conversation with userID, creating it if needed.
func (c *Client) FindOrCreate(ctx context.Context, userID int64) (*models.FindOrCreateResponse, error) {
	var out models.FindOrCreateResponse
	body := models.FindOrCreateRequest{UserID: userID}
	if err := c.do(ctx, fasthttp.MethodPost, "/conversations/find-or-create", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text string) (*models.Message, error) {
	var out models.SendMessageResponse
	body := models.SendMessageRequest{ConversationID: conversationID, Message: text}
	if err := c.do(ctx, fasthttp.MethodPost, "/messages", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// MarkAsRead marks every message of the conversation as read.
func (c *Client) MarkAsRead(ctx context.Context, conversationID int64) error {
	path := "/conversations/" + strconv.FormatInt(conversationID, 10) + "/mark-as-read"
	return c.do(ctx, fasthttp.MethodPost, path, nil, nil, nil)
}

// Leave removes the current user from a conversation.
func (c *Client) Leave(ctx context.Context, conversationID int64) error {
	path := "/conversations/" + strconv.FormatInt(conversationID, 10) + "/leave"
	return c.do(ctx, fasthttp.MethodPost, path, nil, nil, nil)
}

// SetTyping publishes the local typing state.
func (c *Client) SetTyping(ctx context.Context, conversationID int64, isTyping bool) error {
	body := models.TypingRequest{ConversationID: conversationID, IsTyping: isTyping}
	return c.do(ctx, fasthttp.MethodPost, "/typing", nil, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return networkError(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	requestID := uuid.NewString()

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	start := time.Now()
	err := c.httpClient.DoTimeout(req, resp, timeout)
	log := c.logger.With(
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		log.Debug("Request failed", zap.Error(err))
		return networkError(err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		apiErr := &Error{StatusCode: status, Kind: kindForStatus(status)}
		var envelope models.ErrorResponse
		if jsonErr := json.Unmarshal(resp.Body(), &envelope); jsonErr == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		} else {
			apiErr.Message = fasthttp.StatusMessage(status)
		}
		log.Debug("Request rejected", zap.Int("status", status), zap.String("error", apiErr.Message))
		return apiErr
	}

	log.Debug("Request completed", zap.Int("status", status))
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
