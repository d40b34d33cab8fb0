package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the worker and the api.
	Registry = prometheus.NewRegistry()

	TrackingCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_cycles_total", Help: "Reconciliation cycles by result."},
		[]string{"result"},
	)
	TrackingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tracking_cycle_duration_seconds", Help: "Reconciliation cycle duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	OrdersProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tracking_orders_processed_total", Help: "Orders reconciled against carrier data."},
	)
	ShipmentEventsInserted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tracking_shipment_events_inserted_total", Help: "New shipment events persisted."},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_notifications_total", Help: "Order update notifications by result."},
		[]string{"result"},
	)
	CarrierRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "carrier_requests_total", Help: "Carrier API requests by operation and result."},
		[]string{"op", "result"},
	)
	WSSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ws_subscribers", Help: "Connected admin WebSocket subscribers."},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(TrackingCycles)
		Registry.MustRegister(TrackingCycleDuration)
		Registry.MustRegister(OrdersProcessed)
		Registry.MustRegister(ShipmentEventsInserted)
		Registry.MustRegister(Notifications)
		Registry.MustRegister(CarrierRequests)
		Registry.MustRegister(WSSubscribers)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
