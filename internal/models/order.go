package models

import (
	"time"

	"github.com/pkg/errors"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusInTransit      OrderStatus = "IN_TRANSIT"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrNoTrackingNumber = errors.New("order has no tracking number")
)

// Порядок жизненного цикла заказа. Чем больше ранг, тем "дальше" заказ.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusPaid:           1,
	OrderStatusProcessing:     2,
	OrderStatusShipped:        3,
	OrderStatusInTransit:      4,
	OrderStatusOutForDelivery: 5,
	OrderStatusDelivered:      6,
	OrderStatusCanceled:       7,
}

func (s OrderStatus) Rank() int {
	if r, ok := orderStatusRank[s]; ok {
		return r
	}
	return -1
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// TerminalStatuses are excluded from tracking.
func TerminalStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusDelivered, OrderStatusCanceled}
}

// ResolveStatus returns the status an order should end up with when the
// carrier reports mapped. Terminal statuses are kept and the lifecycle
// never moves backwards.
func ResolveStatus(current, mapped OrderStatus) OrderStatus {
	if current.IsTerminal() {
		return current
	}
	if mapped.Rank() < current.Rank() {
		return current
	}
	return mapped
}

type Order struct {
	ID              string      `json:"id"`
	TrackingNumber  string      `json:"trackingNumber,omitempty"`
	Status          OrderStatus `json:"status"`
	CurrentLocation *string     `json:"currentLocation,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Trackable reports whether the scheduler should poll the carrier for o.
func (o *Order) Trackable() bool {
	return o.TrackingNumber != "" && !o.Status.IsTerminal()
}
