package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `id, COALESCE(tracking_number, ''), status, current_location, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var status string
	var loc *string
	if err := row.Scan(&o.ID, &o.TrackingNumber, &status, &loc, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.CurrentLocation = loc
	return &o, nil
}

// UpsertOrder creates the order or overwrites its tracking number and status.
// Заказы живут в основном магазине; здесь это нужно для сидов и тестов.
func (s *Storage) UpsertOrder(ctx context.Context, o *models.Order) error {
	now := time.Now().UTC()
	var tn *string
	if o.TrackingNumber != "" {
		tn = &o.TrackingNumber
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (id, tracking_number, status, current_location, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (id) DO UPDATE SET
  tracking_number = EXCLUDED.tracking_number,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
`, o.ID, tn, string(o.Status), o.CurrentLocation, now)
	return errors.Wrap(err, "upsert order")
}

// ListTrackableOrders returns orders with a tracking number and a non-terminal status.
func (s *Storage) ListTrackableOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE tracking_number IS NOT NULL
  AND tracking_number <> ''
  AND status <> ALL($1)
ORDER BY updated_at ASC
`, terminalStatuses())
	if err != nil {
		return nil, errors.Wrap(err, "select trackable orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func terminalStatuses() []string {
	ts := models.TerminalStatuses()
	out := make([]string, 0, len(ts))
	for _, st := range ts {
		out = append(out, string(st))
	}
	return out
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// GetOrdersByIDs returns the orders found, in no particular order.
func (s *Storage) GetOrdersByIDs(ctx context.Context, ids []string) ([]*models.Order, error) {
	if len(ids) == 0 {
		return []*models.Order{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := make([]*models.Order, 0, len(ids))
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
