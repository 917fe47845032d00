// Package stream pushes live monitoring events to connected browser
// clients over websockets. Delivery is fire-and-forget: a down or slow
// client never blocks or fails the monitoring loop, and every swallow is
// logged rather than silent.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names pushed to clients.
const (
	EventWalletStatus     = "wallet_status"
	EventBalanceUpdate    = "balance_update"
	EventLog              = "log_event"
	EventMonitoringStatus = "monitoring_status"
	EventTransaction      = "transaction"
)

const clientBuffer = 32

type envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to all connected websocket clients.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	// onConnect, when set, produces the initial wallet status payload
	// pushed to a freshly connected client.
	onConnect func() (any, bool)

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a new Hub
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// OnConnect registers a provider for the initial wallet_status snapshot.
func (h *Hub) OnConnect(fn func() (any, bool)) {
	h.onConnect = fn
}

// ServeWS upgrades an HTTP request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected", "clients", count)

	go h.writePump(c)
	go h.readPump(c)

	if h.onConnect != nil {
		if payload, ok := h.onConnect(); ok {
			h.sendTo(c, EventWalletStatus, payload)
		}
	}
}

// Broadcast pushes an event to every connected client. Consumers must
// tolerate missing and duplicate events; delivery is best-effort.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(envelope{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("marshal event", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop it rather than stall the monitor.
			h.log.Warn("dropping slow websocket client", "event", event)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// LogEvent streams a human-readable log line for passive observability.
func (h *Hub) LogEvent(source, message, level string) {
	h.Broadcast(EventLog, map[string]string{
		"source":  source,
		"message": message,
		"level":   level,
	})
}

func (h *Hub) sendTo(c *client, event string, payload any) {
	data, err := json.Marshal(envelope{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("marshal event", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// The client may have disconnected already; its send channel is closed
	// the moment it leaves the map.
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		h.log.Warn("initial snapshot dropped", "event", event)
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("websocket write", "error", err)
			h.remove(c)
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice disconnects.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Info("client disconnected", "clients", len(h.clients))
	}
}
