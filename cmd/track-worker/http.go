package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/logger"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/notify"
	"github.com/BearBump/TrackSync/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const defaultWorkerHTTPAddr = ":8082"

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	sched *scheduler.Scheduler
	hub   *notify.Hub
	cfg   *config.Config
	log   *zap.Logger
	ready func(ctx context.Context) error
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = defaultWorkerHTTPAddr
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

	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	opts.log.Info("worker admin HTTP listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	if opts.log == nil {
		opts.log = zap.NewNop()
	}
	h := &workerHandlers{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(opts.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.readyz)
	r.Get("/job", h.job)
	r.Get("/config", h.configView)
	r.Post("/start", h.start)
	r.Post("/stop", h.stop)
	r.Post("/trigger", h.trigger)
	r.Post("/orders/{id}/refresh", h.refresh)
	r.Get("/ws", opts.hub.ServeWS)
	r.Handle("/metrics", metrics.Handler())

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			// cachebuster, чтобы swagger-ui не держал старую схему
			swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		} else {
			opts.log.Warn("worker swagger file not found, docs disabled", zap.String("path", opts.swaggerPath))
		}
	}
	return r
}

type workerHandlers struct {
	opts workerHTTPOpts
}

type jobResponse struct {
	Running         bool                `json:"running"`
	IntervalMinutes int                 `json:"intervalMinutes"`
	Job             *models.TrackingJob `json:"job"`
}

func (h *workerHandlers) jobSnapshot() jobResponse {
	return jobResponse{
		Running:         h.opts.sched.Running(),
		IntervalMinutes: h.opts.sched.IntervalMinutes(),
		Job:             h.opts.sched.Job(),
	}
}

func (h *workerHandlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.opts.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *workerHandlers) job(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobSnapshot())
}

func (h *workerHandlers) configView(w http.ResponseWriter, r *http.Request) {
	if h.opts.cfg == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "config not wired"})
		return
	}
	c := h.opts.cfg
	// Секреты (пароли, api_key, admin_token) не отдаём.
	writeJSON(w, http.StatusOK, map[string]any{
		"intervalMinutes":         h.opts.sched.IntervalMinutes(),
		"autostart":               c.Tracking.AutostartEnabled(),
		"notifyQueueSize":         c.Tracking.NotifyQueueSize,
		"carrierMode":             carrierMode(c),
		"carrierBatchSize":        c.Carrier.BatchSize,
		"carrierRequestsPerSec":   c.Carrier.RequestsPerSecond,
		"carrierRateLimitPerMin":  c.Carrier.RateLimitPerMinute,
		"carrierTimeZone":         c.Carrier.TimeZone,
		"orderUpdatedTopic":       c.Kafka.OrderUpdatedTopicName,
		"kafkaEnabled":            c.Kafka.Addr() != "",
		"redisEnabled":            c.Redis.Addr() != "",
		"databaseEnabled":         c.Database.DSN() != "",
		"adminWebSocketProtected": c.Tracking.AdminToken != "",
	})
}

func carrierMode(c *config.Config) string {
	if c.Carrier.Mode == "fake" || c.Carrier.BaseURL == "" {
		return "fake"
	}
	return "correios"
}

type startRequest struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

func (h *workerHandlers) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.IntervalMinutes < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intervalMinutes must be positive"})
		return
	}
	if req.IntervalMinutes > scheduler.MaxIntervalMinutes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": scheduler.ErrIntervalTooLarge.Error()})
		return
	}
	if err := h.opts.sched.Start(r.Context(), req.IntervalMinutes); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.jobSnapshot())
}

func (h *workerHandlers) stop(w http.ResponseWriter, r *http.Request) {
	h.opts.sched.Stop()
	writeJSON(w, http.StatusOK, h.jobSnapshot())
}

func (h *workerHandlers) trigger(w http.ResponseWriter, r *http.Request) {
	if !h.opts.sched.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]any{"triggered": false, "error": "scheduler is stopped"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (h *workerHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	upd, err := h.opts.sched.ForceUpdate(r.Context(), id)
	if err != nil {
		code := refreshStatus(err)
		if code == http.StatusBadGateway {
			h.opts.log.Warn("force update failed", zap.String("order_id", id), zap.Error(err))
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func refreshStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoTrackingNumber):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
