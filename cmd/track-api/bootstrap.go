package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/cache"
	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/services/orders"
	"github.com/BearBump/TrackSync/internal/storage/memtracking"
	"github.com/BearBump/TrackSync/internal/storage/pgtracking"
	"go.uber.org/zap"
)

type trackAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackAPIOpts
	svc      *orders.Service
	consumer kafkaConsumer
	log      *zap.Logger
	closers  []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		panic(fmt.Sprintf("ошибка инициализации логгера, %v", err))
	}
	metrics.RegisterDefault()

	app := &trackAPIApp{log: log}

	consumerGroup := cfg.API.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = messages.OrderUpdatedType
	}
	cacheTTL := time.Duration(cfg.API.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	swaggerPath := cfg.API.SwaggerPath
	if env := os.Getenv("swaggerPath"); env != "" {
		swaggerPath = env
	}

	var repo orders.Repository
	if dsn := cfg.Database.DSN(); dsn != "" {
		st := mustOpenPostgresWithRetry(dsn, 60*time.Second, log)
		app.closers = append(app.closers, st.Close)
		repo = st
	} else {
		log.Warn("database is not configured, serving an empty in-memory store")
		repo = memtracking.New()
	}

	var c cache.BytesCache
	if addr := cfg.Redis.Addr(); addr != "" {
		rc := rediscache.New(addr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		c = rc
	}
	app.svc = orders.New(repo, c, cacheTTL)

	if addr := cfg.Kafka.Addr(); addr != "" {
		consumer := kafka.NewConsumer([]string{addr}, topic, consumerGroup)
		app.closers = append(app.closers, func() { _ = consumer.Close() })
		app.consumer = consumer
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = trackAPIOpts{
		httpAddr:      cfg.API.HTTPAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
		log:           log,
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration, log *zap.Logger) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Debug("postgres is not ready yet", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.svc, a.consumer)
}
