package notify

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/broker/messages"
	"github.com/BearBump/TrackSync/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 256
	subscriberBuffer = 16

	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var ErrQueueFull = errors.New("notify queue is full")

// Envelope is the JSON frame sent to admin dashboards.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type subscriber struct {
	ch chan []byte
}

// Hub раздаёт обновления заказов подключённым админским WebSocket-клиентам.
// Notify только кладёт сообщение в очередь, рассылкой занимается Run.
type Hub struct {
	log   *zap.Logger
	token string

	queue chan messages.OrderUpdated

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewHub(adminToken string, queueSize int, log *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:          log,
		token:        adminToken,
		queue:        make(chan messages.OrderUpdated, queueSize),
		subs:         map[*subscriber]struct{}{},
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		pingInterval: pingInterval,
	}
}

// Notify enqueues msg without blocking. A full queue drops the message.
func (h *Hub) Notify(ctx context.Context, msg messages.OrderUpdated) error {
	select {
	case h.queue <- msg:
		return nil
	default:
		h.log.Warn("notify queue full, dropping update", zap.String("order_id", msg.OrderID))
		return ErrQueueFull
	}
}

// Run fans queued messages out to subscribers until ctx is done,
// then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.queue:
			b, err := json.Marshal(Envelope{Type: messages.OrderUpdatedType, Data: msg})
			if err != nil {
				h.log.Error("marshal ws frame", zap.Error(err))
				continue
			}
			h.broadcast(b)
		}
	}
}

func (h *Hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		// медленного клиента пропускаем, рассылку не тормозим
		select {
		case s.ch <- b:
		default:
		}
	}
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.WSSubscribers.Set(float64(n))
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.WSSubscribers.Set(float64(n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
	h.mu.Unlock()
	metrics.WSSubscribers.Set(0)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	tok := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tok = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(h.token)) == 1
}

// ServeWS handles GET /ws. Only admins holding the configured token may subscribe.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	sub := h.subscribe()
	h.log.Debug("ws subscriber connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(conn, sub)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// входящие сообщения не нужны, читаем только ради pong и close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unsubscribe(sub)
	h.log.Debug("ws subscriber disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case b, ok := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
