package orders_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/orders"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Service interface {
	GetOrders(ctx context.Context, ids []string) ([]*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListShipmentEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.ShipmentEvent, error)
}

type OrdersAPI struct {
	svc Service
	log *zap.Logger
}

func New(svc Service, log *zap.Logger) *OrdersAPI {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrdersAPI{svc: svc, log: log}
}

// Routes mounts the read endpoints under /v1.
func (a *OrdersAPI) Routes(r chi.Router) {
	r.Route("/v1/orders", func(r chi.Router) {
		r.Get("/", a.getOrders)
		r.Get("/{id}", a.getOrder)
		r.Get("/{id}/events", a.listEvents)
	})
}

type ordersResponse struct {
	Orders []*models.Order `json:"orders"`
}

type eventsResponse struct {
	Events []*models.ShipmentEvent `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *OrdersAPI) getOrders(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if strings.TrimSpace(raw) == "" {
		a.writeError(w, errors.Wrap(orders.ErrInvalidArgument, "ids query parameter is required"))
		return
	}
	out, err := a.svc.GetOrders(r.Context(), strings.Split(raw, ","))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: out})
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *OrdersAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		a.writeError(w, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		a.writeError(w, err)
		return
	}
	evs, err := a.svc.ListShipmentEvents(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*models.ShipmentEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs})
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(orders.ErrInvalidArgument, "bad %s", name)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *OrdersAPI) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		a.log.Error("orders api", zap.Error(err))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
