package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onnwee/prerender/internal/apierr"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/metrics"
	"github.com/onnwee/prerender/internal/render"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Per-client outbound queue; slower clients are dropped
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware handles origin policy
		return true
	},
}

// EventMessage is the envelope sent to feed subscribers.
type EventMessage struct {
	Type    string      `json:"type"` // "stats", "render"
	Payload interface{} `json:"payload"`
}

type client struct {
	hub  *EventsHub
	conn *websocket.Conn
	send chan []byte
}

// EventsHub fans render events out to connected WebSocket clients.
type EventsHub struct {
	stats StatsReader

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewEventsHub creates a hub. Call Run to start delivering events.
func NewEventsHub(stats StatsReader) *EventsHub {
	return &EventsHub{
		stats:      stats,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run delivers events until ctx is cancelled, then disconnects every client.
func (h *EventsHub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			logger.Info("Render feed client connected", "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				logger.Info("Render feed client disconnected", "total_clients", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
					metrics.WebSocketMessagesSent.Inc()
				default:
					logger.Warn("Render feed client too slow, disconnecting")
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *EventsHub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

func (h *EventsHub) shutdown() {
	h.mu.Lock()
	for c := range h.clients {
		h.remove(c)
	}
	h.mu.Unlock()
	close(h.done)
}

// ClientCount returns the number of connected clients.
func (h *EventsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for delivery. It never blocks; events are dropped when
// the queue is full or the hub has stopped.
func (h *EventsHub) Publish(ev render.Event) {
	data, err := json.Marshal(EventMessage{Type: "render", Payload: ev})
	if err != nil {
		logger.Error("Failed to marshal render event", "error", err)
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		logger.Debug("Render feed queue full, dropping event", "url", ev.URL)
	}
}

// HandleWebSocket upgrades the connection and subscribes it to render events.
// GET /ws/renders
func (h *EventsHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("render feed is shutting down"))
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		logger.WarnContext(r.Context(), "Failed to upgrade to WebSocket", "error", err)
		return
	}

	c := h.newClient(conn)

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// newClient creates a client with the initial stats frame already queued.
// Once registered, the hub may close c.send at any time, so nothing else is
// sent on it from outside the hub.
func (h *EventsHub) newClient(conn *websocket.Conn) *client {
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	data, err := json.Marshal(EventMessage{
		Type:    "stats",
		Payload: newCacheStatsResponse(h.stats.Stats()),
	})
	if err != nil {
		logger.Error("Failed to marshal render feed stats", "error", err)
		return c
	}
	c.send <- data
	return c
}

// readPump discards inbound messages and unregisters the client on close.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages, one per frame, and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
