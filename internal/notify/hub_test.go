package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, token string) (*Hub, string) {
	t.Helper()
	h := NewHub(token, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func update(orderID string) messages.OrderUpdated {
	return messages.NewOrderUpdated(&models.TrackingUpdate{
		OrderID:      orderID,
		Status:       "Objeto entregue",
		IsDelivered:  true,
		HasNewEvents: true,
		NewEvents:    1,
	}, time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC))
}

func TestHub_DeliversToAuthorizedSubscribers(t *testing.T) {
	h, url := startHub(t, "secret")

	c1 := dial(t, url, http.Header{"Authorization": []string{"Bearer secret"}})
	c2 := dial(t, url+"?token=secret", nil)
	require.Eventually(t, func() bool { return h.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Notify(context.Background(), update("A1")))

	for _, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)

		var frame struct {
			Type string                `json:"type"`
			Data messages.OrderUpdated `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		require.Equal(t, "order.updated", frame.Type)
		require.Equal(t, "A1", frame.Data.OrderID)
		require.Equal(t, "Objeto entregue", frame.Data.Status)
		require.True(t, frame.Data.TrackingUpdate.IsDelivered)
	}
}

func TestHub_RejectsUnauthorized(t *testing.T) {
	h, url := startHub(t, "secret")

	for _, hdr := range []http.Header{
		nil,
		{"Authorization": []string{"Bearer wrong"}},
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.Zero(t, h.Subscribers())
}

func TestHub_NoTokenConfiguredRejectsEveryone(t *testing.T) {
	_, url := startHub(t, "")
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestHub_UnsubscribesOnDisconnect(t *testing.T) {
	h, url := startHub(t, "secret")

	c := dial(t, url+"?token=secret", nil)
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub("secret", 1, nil)
	slow := h.subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			h.broadcast([]byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	require.Len(t, slow.ch, subscriberBuffer)

	h.unsubscribe(slow)
	h.unsubscribe(slow) // повторная отписка безопасна
	require.Zero(t, h.Subscribers())
}

func TestHub_QueueFull(t *testing.T) {
	h := NewHub("secret", 1, nil)
	require.NoError(t, h.Notify(context.Background(), update("A1")))
	require.ErrorIs(t, h.Notify(context.Background(), update("A2")), ErrQueueFull)
}

func TestHub_RunStopDisconnects(t *testing.T) {
	h := NewHub("secret", 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	stopped := make(chan struct{})
	go func() { h.Run(ctx); close(stopped) }()

	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"?token=secret", nil)
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	require.Zero(t, h.Subscribers())

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
