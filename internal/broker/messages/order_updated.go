package messages

import (
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

const OrderUpdatedType = "order.updated"

// OrderUpdated публикуется воркером, когда по заказу пришли новые события перевозчика.
// Status содержит текст последнего события, а не нормализованный статус заказа.
type OrderUpdated struct {
	OrderID        string                 `json:"orderId"`
	Status         string                 `json:"status"`
	TrackingUpdate *models.TrackingUpdate `json:"trackingUpdate,omitempty"`
	At             time.Time              `json:"at"`
}

func NewOrderUpdated(upd *models.TrackingUpdate, at time.Time) OrderUpdated {
	return OrderUpdated{
		OrderID:        upd.OrderID,
		Status:         upd.Status,
		TrackingUpdate: upd,
		At:             at.UTC(),
	}
}
