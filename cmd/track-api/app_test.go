package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/orders"
	"github.com/BearBump/TrackSync/internal/storage/memtracking"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *memtracking.Storage {
	st := memtracking.New()
	require.NoError(t, st.UpsertOrder(context.Background(), &models.Order{ID: "A1", TrackingNumber: "OT123", Status: models.OrderStatusShipped}))
	return st
}

func TestAPIRouter_OrdersAndHealth(t *testing.T) {
	srv := httptest.NewServer(newAPIRouter(trackAPIOpts{}, orders.New(newStore(t), nil, 0)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/orders/A1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var o models.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
	require.Equal(t, "A1", o.ID)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAPIRouter_SwaggerServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	srv := httptest.NewServer(newAPIRouter(trackAPIOpts{swaggerPath: sw}, orders.New(newStore(t), nil, 0)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), `"swagger"`)
}

type stubOrders struct {
	*orders.Service
	err  error
	seen []string
}

func (s *stubOrders) ApplyOrderUpdated(ctx context.Context, msg messages.OrderUpdated) error {
	s.seen = append(s.seen, msg.OrderID)
	return s.err
}

func TestOrderUpdatedHandler(t *testing.T) {
	svc := &stubOrders{}
	h := orderUpdatedHandler(svc, zap.NewNop())

	require.ErrorIs(t, h(context.Background(), []byte("A1"), []byte("{")), kafka.ErrSkipMessage)

	b, _ := json.Marshal(messages.OrderUpdated{OrderID: "A1", Status: "Objeto entregue"})
	require.NoError(t, h(context.Background(), []byte("A1"), b))
	require.Equal(t, []string{"A1"}, svc.seen)

	svc.err = models.ErrOrderNotFound
	require.ErrorIs(t, h(context.Background(), []byte("A1"), b), kafka.ErrSkipMessage)

	// недоступный Redis/БД не должен останавливать консьюмер
	svc.err = errors.New("db down")
	require.ErrorIs(t, h(context.Background(), []byte("A1"), b), kafka.ErrSkipMessage)
}

type chanConsumer struct {
	msgs chan []byte
}

func (c chanConsumer) Consume(ctx context.Context, handler kafka.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-c.msgs:
			if err := handler(ctx, nil, v); err != nil && !errors.Is(err, kafka.ErrSkipMessage) {
				return err
			}
		}
	}
}

func TestRunTrackAPI_ConsumerRefreshesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	defer rc.Close()

	st := newStore(t)
	svc := orders.New(st, rc, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	cons := chanConsumer{msgs: make(chan []byte)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(ctx, trackAPIOpts{
			httpAddr: "127.0.0.1:0",
			topic:    "order.updated",
			onListen: func(addr string) { addrCh <- addr },
		}, svc, cons)
	}()
	addr := <-addrCh

	get := func() models.Order {
		resp, err := http.Get("http://" + addr + "/v1/orders/A1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var o models.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
		return o
	}

	require.Equal(t, models.OrderStatusShipped, get().Status)

	_, err := st.ApplyShipmentUpdate(context.Background(), models.ShipmentUpdate{
		OrderID:  "A1",
		Events:   []*models.ShipmentEvent{{Status: "BDE", Description: "Objeto entregue", Timestamp: time.Now()}},
		Status:   models.OrderStatusDelivered,
		Location: "RIO DE JANEIRO/RJ",
	})
	require.NoError(t, err)
	// в кэше всё ещё старое состояние
	require.Equal(t, models.OrderStatusShipped, get().Status)

	b, _ := json.Marshal(messages.OrderUpdated{OrderID: "A1", Status: "Objeto entregue"})
	cons.msgs <- b
	require.Eventually(t, func() bool {
		return get().Status == models.OrderStatusDelivered
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting track-api to stop")
	}
}
