package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	a, unsubA := hub.Subscribe(4)
	defer unsubA()
	b, unsubB := hub.Subscribe(4)
	defer unsubB()

	hub.Broadcast(Event{Type: TypeDownloadQueued, Data: 42})

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, TypeDownloadQueued, e.Type)
		assert.Equal(t, 42, e.Data)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	slow, unsubscribe := hub.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast(Event{Type: TypeDownloadProgress, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	assert.Equal(t, 0, (<-slow).Data)
}

func TestHub_Unsubscribe(t *testing.T) {
	t.Parallel()
	hub := NewHub()

	ch, unsubscribe := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)

	hub.Broadcast(Event{Type: TypeScanCompleted})
}

func TestStream(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	e := echo.New()
	RegisterRoutes(e, hub)

	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(Event{Type: TypeDownloadUpdated, Data: map[string]string{"status": "paused"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, TypeDownloadUpdated, got.Type)
	assert.Equal(t, "paused", got.Data["status"])

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
