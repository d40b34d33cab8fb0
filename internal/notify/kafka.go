package notify

import (
	"context"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// KafkaNotifier публикует order.updated, ключом служит id заказа,
// чтобы события одного заказа попадали в одну партицию.
// Как и Hub, Notify только ставит сообщение в очередь; публикует Run,
// по одной попытке на сообщение.
type KafkaNotifier struct {
	p     Publisher
	topic string
	log   *zap.Logger

	queue   chan messages.OrderUpdated
	timeout time.Duration
}

func NewKafkaNotifier(p Publisher, topic string, queueSize int, log *zap.Logger) *KafkaNotifier {
	if topic == "" {
		topic = messages.OrderUpdatedType
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaNotifier{
		p:       p,
		topic:   topic,
		log:     log,
		queue:   make(chan messages.OrderUpdated, queueSize),
		timeout: publishTimeout,
	}
}

// Notify enqueues msg without blocking. A full queue drops the message.
func (k *KafkaNotifier) Notify(ctx context.Context, msg messages.OrderUpdated) error {
	select {
	case k.queue <- msg:
		return nil
	default:
		k.log.Warn("kafka notify queue full, dropping update", zap.String("order_id", msg.OrderID))
		return ErrQueueFull
	}
}

// Run publishes queued messages until ctx is done. Failed publishes are logged and dropped.
func (k *KafkaNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-k.queue:
			if err := k.publish(ctx, msg); err != nil {
				k.log.Warn("publish order.updated", zap.String("order_id", msg.OrderID), zap.Error(err))
			}
		}
	}
}

func (k *KafkaNotifier) publish(ctx context.Context, msg messages.OrderUpdated) error {
	pctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return errors.Wrap(k.p.PublishJSON(pctx, k.topic, msg.OrderID, msg), "publish order.updated")
}
