package models

import "time"

// ShipmentEvent: одно событие перевозчика по заказу. Таблица append-only.
type ShipmentEvent struct {
	ID          uint64    `json:"id"`
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"` // сырой код перевозчика (BDE, PO, RO...)
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DedupKey identifies an event inside one order.
func (e *ShipmentEvent) DedupKey() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.Description
}

// ShipmentUpdate is what the reconciler persists atomically: new events plus
// the order fields derived from the most recent one.
type ShipmentUpdate struct {
	OrderID  string
	Events   []*ShipmentEvent
	Status   OrderStatus
	Location string
}

// TrackingUpdate is the outcome of reconciling one order.
// Status carries the carrier's description text, not the normalized enum.
type TrackingUpdate struct {
	OrderID        string    `json:"orderId"`
	TrackingNumber string    `json:"trackingNumber"`
	Status         string    `json:"status"`
	Location       string    `json:"location"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
	IsDelivered    bool      `json:"isDelivered"`
	HasNewEvents   bool      `json:"hasNewEvents"`
	NewEvents      int       `json:"newEvents"`
}
