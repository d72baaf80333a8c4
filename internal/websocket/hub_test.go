package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/metrics"
	"ngabarin/messaging/internal/models"
)

type members map[[2]int64]bool

func (m members) IsParticipant(_ context.Context, conversationID, userID int64) (bool, error) {
	if conversationID < 0 {
		return false, errors.New("database unavailable")
	}
	return m[[2]int64{conversationID, userID}], nil
}

type frame struct {
	kind int
	data []byte
}

type fakeConn struct {
	in  chan []byte
	out chan frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 8),
		out:    make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("closed")
	}
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.out <- frame{kind: kind, data: data}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) command(t *testing.T, eventType models.EventType, conversationID int64) {
	t.Helper()
	data, err := json.Marshal(models.Event{Type: eventType, ConversationID: conversationID})
	require.NoError(t, err)
	f.in <- data
}

// nextEvent skips control frames
func (f *fakeConn) nextEvent(t *testing.T) models.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case fr := <-f.out:
			if fr.kind != websocket.TextMessage {
				continue
			}
			var event models.Event
			require.NoError(t, json.Unmarshal(fr.data, &event))
			return event
		case <-deadline:
			t.Fatal("no event written")
		}
	}
}

func startHub(t *testing.T, m Membership, opts ...Option) *Hub {
	t.Helper()
	hub := NewHub(m, zap.NewNop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func serve(t *testing.T, hub *Hub, userID int64) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	go hub.Serve(conn, userID)
	require.Eventually(t, func() bool { return hub.IsUserOnline(userID) }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func typingEvent(t *testing.T, conversationID, userID int64) models.Event {
	t.Helper()
	event, err := models.NewEvent(models.EventTypingChanged, conversationID, models.TypingPayload{UserID: userID, UserName: "Budi", IsTyping: true})
	require.NoError(t, err)
	return event
}

func TestHub_BroadcastToUsers(t *testing.T) {
	hub := startHub(t, members{})
	alice := serve(t, hub, 1)
	bob := serve(t, hub, 2)
	carol := serve(t, hub, 3)

	event, err := models.NewEvent(models.EventMessageCreated, 7, models.Message{ID: 10, ConversationID: 7, SenderID: 1, Body: "Halo"})
	require.NoError(t, err)
	hub.BroadcastToUsers([]int64{1, 2, 99}, event)

	for _, conn := range []*fakeConn{alice, bob} {
		got := conn.nextEvent(t)
		assert.Equal(t, models.EventMessageCreated, got.Type)
		assert.EqualValues(t, 7, got.ConversationID)
	}
	select {
	case fr := <-carol.out:
		if fr.kind == websocket.TextMessage {
			t.Fatalf("unexpected event for a non-participant: %s", fr.data)
		}
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, []int64{1, 2, 3}, hub.GetOnlineUsers())
	assert.Equal(t, 3, hub.GetOnlineCount())
}

func TestHub_TypingGoesToSubscribersOnly(t *testing.T) {
	hub := startHub(t, members{{7, 1}: true, {7, 2}: true})
	sender := serve(t, hub, 1)
	watcher := serve(t, hub, 2)

	sender.command(t, models.EventSubscribe, 7)
	watcher.command(t, models.EventSubscribe, 7)
	require.Eventually(t, func() bool { return hub.SubscriberCount(7) == 2 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToSubscribers(7, typingEvent(t, 7, 1), 1)

	got := watcher.nextEvent(t)
	assert.Equal(t, models.EventTypingChanged, got.Type)

	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.EqualValues(t, 1, payload.UserID)
	assert.True(t, payload.IsTyping)

	select {
	case fr := <-sender.out:
		if fr.kind == websocket.TextMessage {
			t.Fatalf("sender received its own typing event: %s", fr.data)
		}
	case <-time.After(50 * time.Millisecond):
	}

	watcher.command(t, models.EventUnsubscribe, 7)
	require.Eventually(t, func() bool { return hub.SubscriberCount(7) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_SubscribeRequiresMembership(t *testing.T) {
	hub := startHub(t, members{})
	conn := serve(t, hub, 5)

	conn.command(t, models.EventSubscribe, 7)
	got := conn.nextEvent(t)
	assert.Equal(t, models.EventError, got.Type)

	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "forbidden", payload.Code)
	assert.Zero(t, hub.SubscriberCount(7))

	conn.command(t, models.EventSubscribe, -1)
	require.NoError(t, json.Unmarshal(conn.nextEvent(t).Payload, &payload))
	assert.Equal(t, "internal", payload.Code)

	conn.command(t, "presence", 7)
	require.NoError(t, json.Unmarshal(conn.nextEvent(t).Payload, &payload))
	assert.Equal(t, "bad_request", payload.Code)
}

func TestHub_NewConnectionReplacesOld(t *testing.T) {
	hub := startHub(t, members{{7, 1}: true})
	first := serve(t, hub, 1)
	first.command(t, models.EventSubscribe, 7)
	require.Eventually(t, func() bool { return hub.SubscriberCount(7) == 1 }, time.Second, 5*time.Millisecond)

	second := newFakeConn()
	t.Cleanup(func() { second.Close() })
	go hub.Serve(second, 1)

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("old connection was not closed")
	}
	assert.Eventually(t, func() bool { return hub.SubscriberCount(7) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, hub.IsUserOnline(1))
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	m := metrics.New()
	hub := startHub(t, members{{7, 4}: true}, WithMetrics(m))
	conn := serve(t, hub, 4)
	conn.command(t, models.EventSubscribe, 7)
	require.Eventually(t, func() bool { return hub.SubscriberCount(7) == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return !hub.IsUserOnline(4) }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.SubscriberCount(7))
}

func TestHub_FullBufferDropsClient(t *testing.T) {
	hub := startHub(t, members{})
	client := NewClient(8, newFakeConn(), hub)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.IsUserOnline(8) }, time.Second, 5*time.Millisecond)

	event := typingEvent(t, 1, 2)
	for i := 0; i <= sendBufferSize; i++ {
		hub.BroadcastToUsers([]int64{8}, event)
	}

	assert.Eventually(t, func() bool { return !hub.IsUserOnline(8) }, time.Second, 5*time.Millisecond)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub(members{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	conn := serve(t, hub, 1)
	cancel()
	<-stopped

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("connection still open after shutdown")
	}
	assert.Zero(t, hub.GetOnlineCount())

	late := newFakeConn()
	hub.Serve(late, 2)
	select {
	case <-late.closed:
	default:
		t.Fatal("late connection was accepted")
	}
}
