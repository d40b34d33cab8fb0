package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/cache"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

const maxIDs = 1000

var ErrInvalidArgument = errors.New("invalid argument")

//go:generate mockery --name Repository --output ./mocks --outpkg mocks --structname MockRepository

type Repository interface {
	GetOrdersByIDs(ctx context.Context, ids []string) ([]*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListShipmentEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.ShipmentEvent, error)
}

// Service отдаёт текущее состояние заказов для track-api.
// Кэш best-effort: любая ошибка Redis означает промах.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// GetOrders returns the orders found, in the order of ids. Duplicates and
// blank ids are ignored.
func (s *Service) GetOrders(ctx context.Context, ids []string) ([]*models.Order, error) {
	clean := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return []*models.Order{}, nil
	}
	if len(clean) > maxIDs {
		return nil, errors.Wrapf(ErrInvalidArgument, "too many ids (max %d)", maxIDs)
	}

	miss := make([]string, 0, len(clean))
	got := make(map[string]*models.Order, len(clean))

	if s.cacheEnabled() {
		for _, id := range clean {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var o models.Order
			if json.Unmarshal(b, &o) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &o
		}
	} else {
		miss = clean
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetOrdersByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, o := range fromDB {
			got[o.ID] = o
			s.store(ctx, o)
		}
	}

	out := make([]*models.Order, 0, len(clean))
	for _, id := range clean {
		if o, ok := got[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "order id is required")
	}
	out, err := s.GetOrders(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, models.ErrOrderNotFound
	}
	return out[0], nil
}

func (s *Service) ListShipmentEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.ShipmentEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "order id is required")
	}
	return s.repo.ListShipmentEvents(ctx, orderID, limit, offset)
}

// ApplyOrderUpdated перечитывает заказ из БД после order.updated от воркера
// и кладёт свежее состояние в кэш.
func (s *Service) ApplyOrderUpdated(ctx context.Context, msg messages.OrderUpdated) error {
	if msg.OrderID == "" {
		return errors.Wrap(ErrInvalidArgument, "orderId is required")
	}
	if !s.cacheEnabled() {
		return nil
	}

	o, err := s.repo.GetOrder(ctx, msg.OrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		_ = s.cache.Delete(ctx, currentKey(msg.OrderID))
		return err
	}
	if err != nil {
		return errors.Wrap(err, "reload order")
	}
	s.store(ctx, o)
	return nil
}

func (s *Service) store(ctx context.Context, o *models.Order) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(o.ID), b, s.currentTTL)
}

func currentKey(id string) string {
	return fmt.Sprintf("order:%s:current", id)
}
