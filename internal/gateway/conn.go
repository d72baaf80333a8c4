package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
)

// Conn is the subset of a websocket connection the gateway uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens push channel connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials with github.com/fasthttp/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

// NewWSDialer returns a dialer with a bounded handshake.
func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	return &WSDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return conn, nil
}
