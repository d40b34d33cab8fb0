package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
	calls atomic.Int32
}

func (m *publisherMock) PublishJSON(ctx context.Context, topic, key string, v any) error {
	defer m.calls.Add(1)
	args := m.Called(ctx, topic, key, v)
	return args.Error(0)
}

func runKafka(t *testing.T, n *KafkaNotifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestKafkaNotifier_PublishesKeyedByOrder(t *testing.T) {
	p := &publisherMock{}
	p.On("PublishJSON", mock.Anything, "order.updated", "A1", mock.MatchedBy(func(v any) bool {
		b, err := json.Marshal(v)
		return err == nil && json.Valid(b)
	})).Return(nil).Once()

	n := NewKafkaNotifier(p, "", 0, nil)
	runKafka(t, n)
	require.NoError(t, n.Notify(context.Background(), update("A1")))
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.AssertExpectations(t)
}

func TestKafkaNotifier_FailedPublishIsNotRetried(t *testing.T) {
	p := &publisherMock{}
	p.On("PublishJSON", mock.Anything, "orders", "A1", mock.Anything).Return(errors.New("leader not available")).Once()
	p.On("PublishJSON", mock.Anything, "orders", "A2", mock.Anything).Return(nil).Once()

	n := NewKafkaNotifier(p, "orders", 0, nil)
	runKafka(t, n)
	require.NoError(t, n.Notify(context.Background(), update("A1")))
	require.NoError(t, n.Notify(context.Background(), update("A2")))

	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.AssertExpectations(t)
	p.AssertNumberOfCalls(t, "PublishJSON", 2)
}

func TestKafkaNotifier_NotifyDoesNotWaitForBroker(t *testing.T) {
	release := make(chan struct{})
	p := &publisherMock{}
	p.On("PublishJSON", mock.Anything, "orders", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(errors.New("broker unreachable"))
	defer close(release)

	n := NewKafkaNotifier(p, "orders", 2, nil)
	runKafka(t, n)

	started := time.Now()
	require.NoError(t, n.Notify(context.Background(), update("A1")))
	require.Eventually(t, func() bool { return len(n.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, n.Notify(context.Background(), update("A2")))
	require.NoError(t, n.Notify(context.Background(), update("A3")))
	// очередь полна, сообщение отбрасывается сразу
	require.ErrorIs(t, n.Notify(context.Background(), update("A4")), ErrQueueFull)
	require.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestKafkaNotifier_PublishHasDeadline(t *testing.T) {
	p := &publisherMock{}
	p.On("PublishJSON", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "orders", "A1", mock.Anything).Return(nil).Once()

	n := NewKafkaNotifier(p, "orders", 0, nil)
	runKafka(t, n)
	require.NoError(t, n.Notify(context.Background(), update("A1")))
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.AssertExpectations(t)
}

type funcNotifier func(ctx context.Context, msg messages.OrderUpdated) error

func (f funcNotifier) Notify(ctx context.Context, msg messages.OrderUpdated) error { return f(ctx, msg) }

func TestMulti_CallsAllAndCombinesErrors(t *testing.T) {
	var calls []string
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	m := Multi{
		funcNotifier(func(context.Context, messages.OrderUpdated) error { calls = append(calls, "a"); return errA }),
		nil,
		funcNotifier(func(context.Context, messages.OrderUpdated) error { calls = append(calls, "b"); return nil }),
		funcNotifier(func(context.Context, messages.OrderUpdated) error { calls = append(calls, "c"); return errC }),
	}

	err := m.Notify(context.Background(), update("A1"))
	require.Equal(t, []string{"a", "b", "c"}, calls)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errC)

	require.NoError(t, Multi{}.Notify(context.Background(), update("A1")))
}
