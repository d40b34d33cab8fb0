package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/statusmap"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrBadTimestamp = errors.New("unparsable event timestamp")

type Repository interface {
	LatestShipmentEvent(ctx context.Context, orderID string) (*models.ShipmentEvent, error)
	ApplyShipmentUpdate(ctx context.Context, upd models.ShipmentUpdate) (int, error)
}

type Reconciler struct {
	repo Repository
	loc  *time.Location
	log  *zap.Logger
}

func New(repo Repository, loc *time.Location, log *zap.Logger) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{repo: repo, loc: loc, log: log}
}

// Reconcile compares the carrier's events for one order with what is stored,
// persists what is new and moves the order status forward.
//
// The check for new data is coarse: only the most recent incoming event is
// compared with the most recent stored one. When it is newer, every incoming
// event is offered to the store, which skips the ones it already has.
func (r *Reconciler) Reconcile(ctx context.Context, orderID, trackingNumber string, raw []carrier.RawEvent) (*models.TrackingUpdate, error) {
	upd := &models.TrackingUpdate{OrderID: orderID, TrackingNumber: trackingNumber}
	if len(raw) == 0 {
		return upd, nil
	}

	prev, err := r.repo.LatestShipmentEvent(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load latest event")
	}

	events := make([]*models.ShipmentEvent, 0, len(raw))
	for _, re := range raw {
		ts, err := ParseTimestamp(re.Data, re.Hora, r.loc)
		if err != nil {
			return nil, err
		}
		events = append(events, &models.ShipmentEvent{
			OrderID:     orderID,
			Status:      strings.TrimSpace(re.Codigo),
			Location:    strings.TrimSpace(re.Local),
			Description: strings.TrimSpace(re.Descricao),
			Timestamp:   ts,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	latest := events[0]

	upd.Status = latest.Description
	upd.Location = latest.Location
	upd.Description = latest.Description
	upd.Timestamp = latest.Timestamp
	upd.IsDelivered = statusmap.IsDelivered(latest.Status, latest.Description)

	if prev != nil && !latest.Timestamp.After(prev.Timestamp) {
		return upd, nil
	}

	inserted, err := r.repo.ApplyShipmentUpdate(ctx, models.ShipmentUpdate{
		OrderID:  orderID,
		Events:   dedup(events),
		Status:   statusmap.MapEvent(latest.Status, latest.Description),
		Location: latest.Location,
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply shipment update")
	}
	metrics.ShipmentEventsInserted.Add(float64(inserted))

	upd.HasNewEvents = true
	upd.NewEvents = inserted

	r.log.Debug("order reconciled",
		zap.String("order_id", orderID),
		zap.String("tracking_number", trackingNumber),
		zap.Int("incoming", len(events)),
		zap.Int("inserted", inserted),
		zap.Bool("delivered", upd.IsDelivered),
	)
	return upd, nil
}

// dedup drops repeats of the same (timestamp, description) inside one batch.
func dedup(events []*models.ShipmentEvent) []*models.ShipmentEvent {
	seen := make(map[string]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		k := e.DedupKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

var (
	dateLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006"}
	timeLayouts = []string{"15:04", "15:04:05"}
	fullLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}
)

// ParseTimestamp combines the carrier's separate date and time strings into
// one instant in loc. A full datetime in data with empty hora is accepted too.
func ParseTimestamp(data, hora string, loc *time.Location) (time.Time, error) {
	data, hora = strings.TrimSpace(data), strings.TrimSpace(hora)
	if loc == nil {
		loc = time.UTC
	}

	if hora == "" {
		for _, l := range fullLayouts {
			if t, err := time.ParseInLocation(l, data, loc); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.Wrap(ErrBadTimestamp, fmt.Sprintf("%q", data))
	}

	for _, dl := range dateLayouts {
		for _, tl := range timeLayouts {
			if t, err := time.ParseInLocation(dl+" "+tl, data+" "+hora, loc); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, errors.Wrap(ErrBadTimestamp, fmt.Sprintf("%q %q", data, hora))
}
