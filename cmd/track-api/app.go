package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackSync/internal/api/orders_api"
	"github.com/BearBump/TrackSync/internal/broker/kafka"
	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const defaultAPIHTTPAddr = ":8080"

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
	log      *zap.Logger
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type ordersService interface {
	orders_api.Service
	ApplyOrderUpdated(ctx context.Context, msg messages.OrderUpdated) error
}

// runTrackAPI serves the read API until ctx is done. consumer may be nil
// when Kafka is not configured; the cache then only expires by TTL.
func runTrackAPI(ctx context.Context, opts trackAPIOpts, svc ordersService, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = defaultAPIHTTPAddr
	}
	if opts.log == nil {
		opts.log = zap.NewNop()
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	if consumer != nil {
		go func() {
			opts.log.Info("kafka consumer started", zap.String("topic", opts.topic), zap.String("group", opts.consumerGroup))
			if err := consumer.Consume(ctx, orderUpdatedHandler(svc, opts.log)); err != nil {
				opts.log.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{Handler: newAPIRouter(opts, svc), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	opts.log.Info("HTTP API listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func newAPIRouter(opts trackAPIOpts, svc orders_api.Service) http.Handler {
	if opts.log == nil {
		opts.log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(opts.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			r.Get("/docs/*", httpSwagger.Handler(
				httpSwagger.URL(fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())),
			))
		} else {
			opts.log.Warn("swagger file not found, docs disabled", zap.String("path", opts.swaggerPath))
		}
	}

	orders_api.New(svc, opts.log.Named("orders_api")).Routes(r)
	return r
}

// orderUpdatedHandler обновляет кэш текущего состояния по order.updated.
// Кэш best-effort: ошибки логируем и коммитим сообщение, устаревшая запись умрёт по TTL.
func orderUpdatedHandler(svc ordersService, log *zap.Logger) kafka.Handler {
	return func(ctx context.Context, key, value []byte) error {
		var m messages.OrderUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			log.Warn("bad order.updated message", zap.ByteString("key", key), zap.Error(err))
			return kafka.ErrSkipMessage
		}
		err := svc.ApplyOrderUpdated(ctx, m)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, orders.ErrInvalidArgument), errors.Is(err, models.ErrOrderNotFound):
			log.Debug("order.updated skipped", zap.String("order_id", m.OrderID), zap.Error(err))
		default:
			log.Warn("apply order.updated", zap.String("order_id", m.OrderID), zap.Error(err))
		}
		return kafka.ErrSkipMessage
	}
}
