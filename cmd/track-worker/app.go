package main

import (
	"context"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/correios"
	"github.com/BearBump/TrackSync/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/notify"
	"github.com/BearBump/TrackSync/internal/services/reconciler"
	"github.com/BearBump/TrackSync/internal/services/scheduler"
	"github.com/BearBump/TrackSync/internal/storage/memtracking"
	"github.com/BearBump/TrackSync/internal/storage/pgtracking"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// workerStorage: всё, что воркеру нужно от хранилища.
type workerStorage interface {
	scheduler.Repository
	reconciler.Repository
}

type workerFactories struct {
	newStorage       func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newCarrierClient func(cfg *config.Config) (c carrier.Client, closeFn func())
	newPublisher     func(cfg *config.Config) (p notify.Publisher, closeFn func())
}

func defaultWorkerFactories(log *zap.Logger) workerFactories {
	if log == nil {
		log = zap.NewNop()
	}
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			dsn := cfg.Database.DSN()
			if dsn == "" {
				log.Warn("database is not configured, using in-memory storage with demo orders")
				st := memtracking.New()
				if err := seedDemoOrders(context.Background(), st); err != nil {
					return nil, nil, err
				}
				return st, func() {}, nil
			}
			st, err := pgtracking.New(dsn)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCarrierClient: func(cfg *config.Config) (carrier.Client, func()) {
			// Без base_url или в режиме fake работаем на локальной заглушке.
			if cfg.Carrier.Mode == "fake" || cfg.Carrier.BaseURL == "" {
				return fake.New(), func() {}
			}
			c := correios.New(cfg.Carrier.BaseURL, cfg.Carrier.Username, cfg.Carrier.APIKey).
				WithLogger(log.Named("correios")).
				WithBatchSize(cfg.Carrier.BatchSize).
				WithTimeout(time.Duration(cfg.Carrier.TimeoutSeconds)*time.Second).
				WithRateLimit(cfg.Carrier.RequestsPerSecond, 1)

			if addr := cfg.Redis.Addr(); addr != "" && cfg.Carrier.RateLimitPerMinute > 0 {
				rl := rediscache.NewRateLimiter(addr)
				return c.WithSharedRateLimit(rl, cfg.Carrier.RateLimitPerMinute), func() { _ = rl.Close() }
			}
			return c, func() {}
		},
		newPublisher: func(cfg *config.Config) (notify.Publisher, func()) {
			addr := cfg.Kafka.Addr()
			if addr == "" {
				return nil, func() {}
			}
			p := kafka.NewProducer([]string{addr})
			return p, func() { _ = p.Close() }
		},
	}
}

// seedDemoOrders кладёт несколько заказов, чтобы демо без БД было что сверять.
func seedDemoOrders(ctx context.Context, st *memtracking.Storage) error {
	demo := []*models.Order{
		{ID: "demo-1", TrackingNumber: "OT100000001BR", Status: models.OrderStatusShipped},
		{ID: "demo-2", TrackingNumber: "OT100000002BR", Status: models.OrderStatusShipped},
		{ID: "demo-3", TrackingNumber: "OT100000003BR", Status: models.OrderStatusInTransit},
		{ID: "demo-4", Status: models.OrderStatusPaid},
	}
	for _, o := range demo {
		if err := st.UpsertOrder(ctx, o); err != nil {
			return errors.Wrapf(err, "seed order %s", o.ID)
		}
	}
	return nil
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, log *zap.Logger, f workerFactories) error {
	if log == nil {
		log = zap.NewNop()
	}

	loc, err := cfg.Carrier.Location()
	if err != nil {
		return errors.Wrap(err, "carrier time zone")
	}

	st, closeStorage, err := f.newStorage(cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer closeStorage()

	carrierClient, closeCarrier := f.newCarrierClient(cfg)
	defer closeCarrier()

	hub := notify.NewHub(cfg.Tracking.AdminToken, cfg.Tracking.NotifyQueueSize, log.Named("hub"))
	notifiers := notify.Multi{hub}

	publisher, closePublisher := f.newPublisher(cfg)
	defer closePublisher()
	var kafkaNotifier *notify.KafkaNotifier
	if publisher != nil {
		kafkaNotifier = notify.NewKafkaNotifier(publisher, cfg.Kafka.OrderUpdatedTopicName, cfg.Tracking.NotifyQueueSize, log.Named("kafka"))
		notifiers = append(notifiers, kafkaNotifier)
	}

	rec := reconciler.New(st, loc, log.Named("reconciler"))
	sched := scheduler.New(st, carrierClient, rec, notifiers, log.Named("scheduler")).
		WithDefaultInterval(cfg.Tracking.IntervalMinutes)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(runCtx)
	}()
	kafkaDone := make(chan struct{})
	go func() {
		defer close(kafkaDone)
		if kafkaNotifier != nil {
			kafkaNotifier.Run(runCtx)
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(runCtx, workerHTTPOpts{
			httpAddr:    cfg.Tracking.WorkerHTTPAddr,
			swaggerPath: cfg.Tracking.SwaggerPath,
			sched:       sched,
			hub:         hub,
			cfg:         cfg,
			log:         log.Named("http"),
			ready:       readinessCheck(st),
		})
	}()

	// первый цикл идёт синхронно, admin HTTP уже отвечает
	if cfg.Tracking.AutostartEnabled() {
		if err := sched.Start(runCtx, cfg.Tracking.IntervalMinutes); err != nil {
			log.Error("autostart tracking scheduler", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-httpErr:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := sched.Shutdown(shutdownCtx); serr != nil {
		log.Warn("tracking cycle did not finish before shutdown", zap.Error(serr))
	}
	<-hubDone
	<-kafkaDone
	return err
}

type pinger interface {
	Ping(ctx context.Context) error
}

func readinessCheck(st workerStorage) func(ctx context.Context) error {
	p, ok := st.(pinger)
	if !ok {
		return nil
	}
	return p.Ping
}
