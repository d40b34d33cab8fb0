package memtracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

// Storage is the in-memory event store used when no database is configured.
// Same semantics as pgtracking: one event per (order, timestamp, description),
// status only moves forward.
type Storage struct {
	mu     sync.Mutex
	now    func() time.Time
	seq    uint64
	orders map[string]*models.Order
	events map[string][]*models.ShipmentEvent // orderID -> events
	keys   map[string]map[string]struct{}     // orderID -> dedup keys
}

func New() *Storage {
	return &Storage{
		now:    time.Now,
		orders: map[string]*models.Order{},
		events: map[string][]*models.ShipmentEvent{},
		keys:   map[string]map[string]struct{}{},
	}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.CurrentLocation != nil {
		loc := *o.CurrentLocation
		c.CurrentLocation = &loc
	}
	return &c
}

func cloneEvent(e *models.ShipmentEvent) *models.ShipmentEvent {
	c := *e
	return &c
}

func (s *Storage) UpsertOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if cur, ok := s.orders[o.ID]; ok {
		cur.TrackingNumber = o.TrackingNumber
		cur.Status = o.Status
		cur.UpdatedAt = now
		return nil
	}
	c := cloneOrder(o)
	c.CreatedAt, c.UpdatedAt = now, now
	s.orders[o.ID] = c
	return nil
}

func (s *Storage) ListTrackableOrders(ctx context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Trackable() {
			out = append(out, cloneOrder(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Storage) GetOrdersByIDs(ctx context.Context, ids []string) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

// events are kept sorted newest first.
func (s *Storage) LatestShipmentEvent(ctx context.Context, orderID string) (*models.ShipmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.events[orderID]
	if len(evs) == 0 {
		return nil, nil
	}
	return cloneEvent(evs[0]), nil
}

func (s *Storage) ListShipmentEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evs := s.events[orderID]
	if offset >= len(evs) {
		return []*models.ShipmentEvent{}, nil
	}
	end := offset + limit
	if end > len(evs) {
		end = len(evs)
	}
	out := make([]*models.ShipmentEvent, 0, end-offset)
	for _, e := range evs[offset:end] {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}

func (s *Storage) ApplyShipmentUpdate(ctx context.Context, upd models.ShipmentUpdate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[upd.OrderID]
	if !ok {
		return 0, models.ErrOrderNotFound
	}

	keys := s.keys[upd.OrderID]
	if keys == nil {
		keys = map[string]struct{}{}
		s.keys[upd.OrderID] = keys
	}

	now := s.now().UTC()
	inserted := 0
	for _, e := range upd.Events {
		k := e.DedupKey()
		if _, dup := keys[k]; dup {
			continue
		}
		keys[k] = struct{}{}

		s.seq++
		c := cloneEvent(e)
		c.ID = s.seq
		c.OrderID = upd.OrderID
		c.Timestamp = e.Timestamp.UTC()
		c.CreatedAt = now
		s.events[upd.OrderID] = append(s.events[upd.OrderID], c)
		inserted++
	}
	if inserted > 0 {
		evs := s.events[upd.OrderID]
		sort.SliceStable(evs, func(i, j int) bool {
			if evs[i].Timestamp.Equal(evs[j].Timestamp) {
				return evs[i].ID > evs[j].ID
			}
			return evs[i].Timestamp.After(evs[j].Timestamp)
		})
	}

	o.Status = models.ResolveStatus(o.Status, upd.Status)
	loc := upd.Location
	o.CurrentLocation = &loc
	o.UpdatedAt = now
	return inserted, nil
}
