package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultIntervalMinutes = 60
	// неделя; дальше интервал в минутах уже не имеет смысла
	MaxIntervalMinutes = 7 * 24 * 60
	notifyTimeout      = 5 * time.Second
)

var (
	ErrCycleInProgress  = errors.New("tracking cycle already in progress")
	ErrIntervalTooLarge = errors.Errorf("interval must not exceed %d minutes", MaxIntervalMinutes)
)

type Repository interface {
	ListTrackableOrders(ctx context.Context) ([]*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, orderID, trackingNumber string, raw []carrier.RawEvent) (*models.TrackingUpdate, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg messages.OrderUpdated) error
}

// Scheduler гоняет циклы сверки по таймеру и ведёт TrackingJob.
// Один экземпляр на процесс, создаётся в main и отдаётся HTTP-хендлерам.
type Scheduler struct {
	repo     Repository
	carrier  carrier.Client
	rec      Reconciler
	notifier Notifier
	log      *zap.Logger

	now   func() time.Time
	newID func() string
	// единица интервала; в тестах подменяется на миллисекунды
	unit time.Duration

	defaultInterval int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	job      *models.TrackingJob
	interval int

	triggerCh  chan struct{}
	inProgress atomic.Bool
}

func New(repo Repository, c carrier.Client, rec Reconciler, n Notifier, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		repo:            repo,
		carrier:         c,
		rec:             rec,
		notifier:        n,
		log:             log,
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
		unit:            time.Minute,
		defaultInterval: DefaultIntervalMinutes,
		triggerCh:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Scheduler) WithDefaultInterval(minutes int) *Scheduler {
	if minutes > 0 && minutes <= MaxIntervalMinutes {
		s.defaultInterval = minutes
	}
	return s
}

// Start runs one cycle synchronously and then arms the recurring timer.
// If a stopped run still has a cycle in flight, Start waits for it first.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes > MaxIntervalMinutes {
		return ErrIntervalTooLarge
	}
	if intervalMinutes <= 0 {
		intervalMinutes = s.defaultInterval
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Info("tracking scheduler already running")
		return nil
	}
	s.running = true
	s.interval = intervalMinutes
	prev := s.done
	s.job = &models.TrackingJob{
		ID:              s.newID(),
		Status:          models.TrackingJobRunning,
		IntervalMinutes: intervalMinutes,
		Errors:          []string{},
	}
	// таймер живёт до Stop, а не до конца запроса, который нас запустил
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	select {
	case <-s.triggerCh:
	default:
	}
	s.mu.Unlock()

	s.log.Info("tracking scheduler started", zap.Int("interval_minutes", intervalMinutes))

	// после Stop старый цикл доживает сам, первый цикл нового запуска идёт после него
	if prev != nil {
		<-prev
	}
	s.runCycle(loopCtx)
	go s.loop(loopCtx, time.Duration(intervalMinutes)*s.unit, done)
	return nil
}

// Stop cancels future firings. An in-flight cycle runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	if s.job != nil {
		s.job.Status = models.TrackingJobStopped
	}
	s.log.Info("tracking scheduler stopped")
}

// Shutdown stops the scheduler and waits for the timer goroutine, including
// a cycle it may be running, or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	s.Stop()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) IntervalMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval > 0 {
		return s.interval
	}
	return s.defaultInterval
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger asks the timer goroutine for an immediate cycle (best-effort, non-blocking).
// Returns false when the scheduler is stopped.
func (s *Scheduler) Trigger() bool {
	if !s.Running() {
		return false
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
	return true
}

// Job returns a snapshot of the current job, or nil if the scheduler never ran.
func (s *Scheduler) Job() *models.TrackingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-s.triggerCh:
		}
		// Stop мог прийти одновременно с тиком
		if ctx.Err() != nil {
			return
		}
		s.runCycle(ctx)
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	err := s.ProcessTrackingUpdates(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.log.Warn("tracking cycle skipped: previous one still running")
	case err != nil:
		s.log.Error("tracking cycle failed", zap.Error(err))
	}
}

// ProcessTrackingUpdates runs one reconciliation cycle over all trackable orders.
// Per-order failures are recorded on the job and do not stop the cycle.
func (s *Scheduler) ProcessTrackingUpdates(ctx context.Context) (err error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		metrics.TrackingCycles.WithLabelValues("skipped").Inc()
		return ErrCycleInProgress
	}
	defer s.inProgress.Store(false)

	var job *models.TrackingJob
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tracking cycle panic: %v", r)
			if job != nil {
				s.failCycle(job, err)
			}
		}
		metrics.TrackingCycleDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.TrackingCycles.WithLabelValues("error").Inc()
		} else {
			metrics.TrackingCycles.WithLabelValues("ok").Inc()
		}
	}()

	now := s.now().UTC()
	s.mu.Lock()
	// дальше цикл пишет только в этот job: Start мог уже завести новый
	job = s.ensureJobLocked()
	job.ID = s.newID()
	job.OrdersProcessed = 0
	job.Errors = []string{}
	job.LastRun = &now
	interval := job.IntervalMinutes
	s.mu.Unlock()

	defer s.setNextRun(job, now.Add(time.Duration(interval)*time.Minute))

	orders, err := s.repo.ListTrackableOrders(ctx)
	if err != nil {
		err = errors.Wrap(err, "list trackable orders")
		s.failCycle(job, err)
		return err
	}
	if len(orders) == 0 {
		s.log.Info("no orders to track")
		return nil
	}

	codes := make([]string, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.TrackingNumber]; ok {
			continue
		}
		seen[o.TrackingNumber] = struct{}{}
		codes = append(codes, o.TrackingNumber)
	}

	results, err := s.carrier.TrackMany(ctx, codes)
	if err != nil {
		// часть пачек могла прийти, работаем с тем, что есть
		s.appendError(job, fmt.Sprintf("Erro ao consultar rastreamento em lote: %s", err))
		s.log.Warn("carrier batch lookup failed", zap.Int("codes", len(codes)), zap.Int("results", len(results)), zap.Error(err))
	}

	for _, o := range orders {
		res := results[o.TrackingNumber]
		if res == nil || len(res.Eventos) == 0 {
			continue
		}

		upd, err := s.reconcileOne(ctx, o, res.Eventos)
		s.incProcessed(job)
		if err != nil {
			s.appendError(job, fmt.Sprintf("Erro ao processar pedido %s: %s", o.ID, err))
			s.log.Error("reconcile order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if upd.HasNewEvents {
			s.notify(ctx, upd)
		}
	}

	s.log.Info("tracking cycle done",
		zap.Int("orders", len(orders)),
		zap.Int("codes", len(codes)),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// ForceUpdate reconciles one order right away, outside the recurring cycle.
func (s *Scheduler) ForceUpdate(ctx context.Context, orderID string) (*models.TrackingUpdate, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.TrackingNumber == "" {
		return nil, models.ErrNoTrackingNumber
	}

	res, err := s.carrier.TrackOne(ctx, o.TrackingNumber)
	if err != nil {
		return nil, errors.Wrap(err, "track one")
	}
	if res == nil || len(res.Eventos) == 0 {
		return &models.TrackingUpdate{OrderID: o.ID, TrackingNumber: o.TrackingNumber}, nil
	}

	upd, err := s.reconcileOne(ctx, o, res.Eventos)
	if err != nil {
		return nil, err
	}
	if upd.HasNewEvents {
		s.notify(ctx, upd)
	}
	return upd, nil
}

func (s *Scheduler) reconcileOne(ctx context.Context, o *models.Order, raw []carrier.RawEvent) (upd *models.TrackingUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	metrics.OrdersProcessed.Inc()
	return s.rec.Reconcile(ctx, o.ID, o.TrackingNumber, raw)
}

// notify никогда не валит сверку: данные уже сохранены.
func (s *Scheduler) notify(ctx context.Context, upd *models.TrackingUpdate) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.Notifications.WithLabelValues("error").Inc()
			s.log.Error("notifier panic", zap.String("order_id", upd.OrderID), zap.Any("panic", r))
		}
	}()

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, messages.NewOrderUpdated(upd, s.now())); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		s.log.Warn("notify order updated", zap.String("order_id", upd.OrderID), zap.Error(err))
		return
	}
	metrics.Notifications.WithLabelValues("ok").Inc()
}

func (s *Scheduler) ensureJobLocked() *models.TrackingJob {
	if s.job == nil {
		status := models.TrackingJobStopped
		if s.running {
			status = models.TrackingJobRunning
		}
		s.job = &models.TrackingJob{
			Status:          status,
			IntervalMinutes: s.defaultInterval,
			Errors:          []string{},
		}
	}
	if s.job.IntervalMinutes <= 0 {
		s.job.IntervalMinutes = s.defaultInterval
	}
	return s.job
}

func (s *Scheduler) failCycle(job *models.TrackingJob, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = models.TrackingJobError
	job.Errors = append(job.Errors, fmt.Sprintf("Erro geral no ciclo de rastreamento: %s", err))
}

func (s *Scheduler) appendError(job *models.TrackingJob, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Errors = append(job.Errors, msg)
}

func (s *Scheduler) incProcessed(job *models.TrackingJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.OrdersProcessed++
}

func (s *Scheduler) setNextRun(job *models.TrackingJob, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.NextRun = &t
}
