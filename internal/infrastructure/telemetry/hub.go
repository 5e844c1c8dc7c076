package telemetry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"roomwatch/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type HubConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	SendBuffer     int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	return c
}

// Subscription selects the reports a dashboard client receives. An empty
// identity means the whole room.
type Subscription struct {
	Room     string
	Identity string
}

func (s Subscription) matches(report domain.QualityReport) bool {
	if s.Room != report.Room {
		return false
	}
	return s.Identity == "" || s.Identity == report.Identity
}

type client struct {
	id   string
	sub  Subscription
	send chan domain.QualityReport
}

// Hub streams quality reports to WebSocket clients. It is a report sink: the
// monitor registry feeds it every published report.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[string]*client
	dropped uint64
}

func NewHub(cfg HubConfig, logger *zap.SugaredLogger) *Hub {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Record delivers a report to every matching client without blocking.
func (h *Hub) Record(_ context.Context, report domain.QualityReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		if !c.sub.matches(report) {
			continue
		}
		select {
		case c.send <- report:
		default:
			h.dropped++
		}
	}
	return nil
}

// Forget is a no-op; clients keep the last report they were sent.
func (h *Hub) Forget(context.Context, domain.SessionID) error {
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams reports matching sub until the
// client goes away. initial is written first, typically the latest reports.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sub Subscription, initial []domain.QualityReport) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:   uuid.NewString(),
		sub:  sub,
		send: make(chan domain.QualityReport, h.cfg.SendBuffer),
	}
	for _, report := range initial {
		select {
		case c.send <- report:
		default:
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Infow("quality stream client connected",
		"client_id", c.id,
		"room", sub.Room,
		"identity", sub.Identity,
	)

	readErr := make(chan error, 1)
	go h.readPump(conn, readErr)
	h.writePump(conn, c, readErr)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.logger.Infow("quality stream client disconnected", "client_id", c.id)
}

// readPump only consumes control frames; clients never send data.
func (h *Hub) readPump(conn *websocket.Conn, errc chan<- error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			errc <- err
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client, readErr <-chan error) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case report := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(report); err != nil {
				h.logger.Debugw("failed to write quality report", "client_id", c.id, "error", err)
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debugw("failed to send ping", "client_id", c.id, "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("quality stream closed unexpectedly", "client_id", c.id, "error", err)
			}
			return
		}
	}
}
