package pgtracking

import (
	"context"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `id, order_id, status, location, description, event_time, created_at`

func scanEvent(row pgx.Row) (*models.ShipmentEvent, error) {
	var e models.ShipmentEvent
	if err := row.Scan(&e.ID, &e.OrderID, &e.Status, &e.Location, &e.Description, &e.Timestamp, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// LatestShipmentEvent returns the most recent stored event or nil if there is none.
func (s *Storage) LatestShipmentEvent(ctx context.Context, orderID string) (*models.ShipmentEvent, error) {
	e, err := scanEvent(s.db.QueryRow(ctx, `
SELECT `+eventColumns+`
FROM shipment_events
WHERE order_id = $1
ORDER BY event_time DESC, id DESC
LIMIT 1
`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest event")
	}
	return e, nil
}

func (s *Storage) ListShipmentEvents(ctx context.Context, orderID string, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM shipment_events
WHERE order_id = $1
ORDER BY event_time DESC, id DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.ShipmentEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyShipmentUpdate вставляет новые события и двигает статус заказа в одной транзакции.
// Строка заказа блокируется, поэтому параллельный ForceUpdate и цикл планировщика
// не перетирают друг другу статус. Возвращает число реально вставленных событий.
func (s *Storage) ApplyShipmentUpdate(ctx context.Context, upd models.ShipmentUpdate) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, upd.OrderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrOrderNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "lock order")
	}

	inserted := 0
	for _, e := range upd.Events {
		tag, err := tx.Exec(ctx, `
INSERT INTO shipment_events (order_id, status, location, description, event_time, created_at)
VALUES ($1,$2,$3,$4,$5, now())
ON CONFLICT (order_id, event_time, description) DO NOTHING
`, upd.OrderID, e.Status, e.Location, e.Description, e.Timestamp.UTC())
		if err != nil {
			return 0, errors.Wrap(err, "insert shipment event")
		}
		inserted += int(tag.RowsAffected())
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET status = $2, current_location = $3, updated_at = now()
WHERE id = $1
`, upd.OrderID, string(models.ResolveStatus(models.OrderStatus(current), upd.Status)), upd.Location)
	if err != nil {
		return 0, errors.Wrap(err, "update order")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return inserted, nil
}
