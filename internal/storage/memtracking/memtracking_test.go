package memtracking

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Storage, orders ...*models.Order) {
	t.Helper()
	for _, o := range orders {
		require.NoError(t, s.UpsertOrder(context.Background(), o))
	}
}

func TestStorage_ListTrackableOrders(t *testing.T) {
	s := New()
	seed(t, s,
		&models.Order{ID: "A1", TrackingNumber: "OT123", Status: models.OrderStatusShipped},
		&models.Order{ID: "B2", TrackingNumber: "OT456", Status: models.OrderStatusDelivered},
		&models.Order{ID: "C3", TrackingNumber: "OT789", Status: models.OrderStatusCanceled},
		&models.Order{ID: "D4", Status: models.OrderStatusPaid},
	)

	got, err := s.ListTrackableOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "A1", got[0].ID)
}

func TestStorage_ApplyShipmentUpdate_Dedup(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, &models.Order{ID: "A1", TrackingNumber: "OT123", Status: models.OrderStatusShipped})

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	upd := models.ShipmentUpdate{
		OrderID: "A1",
		Events: []*models.ShipmentEvent{
			{Status: "RO", Description: "Objeto em trânsito", Location: "SP", Timestamp: t1.Add(time.Hour)},
			{Status: "PO", Description: "Objeto postado", Location: "SP", Timestamp: t1},
		},
		Status:   models.OrderStatusInTransit,
		Location: "SP",
	}

	n, err := s.ApplyShipmentUpdate(ctx, upd)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.ApplyShipmentUpdate(ctx, upd)
	require.NoError(t, err)
	require.Zero(t, n)

	evs, err := s.ListShipmentEvents(ctx, "A1", 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "RO", evs[0].Status)
	require.NotZero(t, evs[0].ID)

	latest, err := s.LatestShipmentEvent(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "RO", latest.Status)

	o, err := s.GetOrder(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusInTransit, o.Status)
	require.Equal(t, "SP", *o.CurrentLocation)
}

func TestStorage_ApplyShipmentUpdate_KeepsTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, &models.Order{ID: "X", TrackingNumber: "T", Status: models.OrderStatusCanceled})

	_, err := s.ApplyShipmentUpdate(ctx, models.ShipmentUpdate{
		OrderID: "X",
		Events:  []*models.ShipmentEvent{{Status: "RO", Description: "x", Timestamp: time.Now()}},
		Status:  models.OrderStatusInTransit,
	})
	require.NoError(t, err)

	o, _ := s.GetOrder(ctx, "X")
	require.Equal(t, models.OrderStatusCanceled, o.Status)
}

func TestStorage_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	_, err = s.ApplyShipmentUpdate(context.Background(), models.ShipmentUpdate{OrderID: "missing"})
	require.ErrorIs(t, err, models.ErrOrderNotFound)

	latest, err := s.LatestShipmentEvent(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, &models.Order{ID: "A1", TrackingNumber: "OT123", Status: models.OrderStatusShipped})

	o, _ := s.GetOrder(ctx, "A1")
	o.Status = models.OrderStatusCanceled

	again, _ := s.GetOrder(ctx, "A1")
	require.Equal(t, models.OrderStatusShipped, again.Status)
}

func TestStorage_ListShipmentEvents_Paging(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, &models.Order{ID: "A1", TrackingNumber: "OT123", Status: models.OrderStatusShipped})

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var evs []*models.ShipmentEvent
	for i := 0; i < 5; i++ {
		evs = append(evs, &models.ShipmentEvent{Status: "RO", Description: "e", Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}
	_, err := s.ApplyShipmentUpdate(ctx, models.ShipmentUpdate{OrderID: "A1", Events: evs, Status: models.OrderStatusInTransit})
	require.NoError(t, err)

	page, err := s.ListShipmentEvents(ctx, "A1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, page[0].Timestamp.Equal(base.Add(3*time.Hour)))

	page, err = s.ListShipmentEvents(ctx, "A1", 2, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}
