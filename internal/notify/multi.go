package notify

import (
	"context"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"go.uber.org/multierr"
)

type Notifier interface {
	Notify(ctx context.Context, msg messages.OrderUpdated) error
}

// Multi calls every notifier and combines their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg messages.OrderUpdated) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Notify(ctx, msg))
	}
	return err
}
