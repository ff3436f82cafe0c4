// Package ws streams settlement attempt events to dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connection. An empty market watches every market.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	market string
}

// filterMsg lets a client narrow the stream after connecting:
// {"market":"7"} or {"market":""} for all.
type filterMsg struct {
	Market *string `json:"market"`
}

// Hub relays messages from one signal bus channel to connected clients.
type Hub struct {
	bus       domain.SignalBus
	channel   string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns a hub relaying channel. Call Run to start it.
func NewHub(bus domain.SignalBus, channel string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		channel:   channel,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "ws_hub")),
		clients:   make(map[*client]struct{}),
	}
}

// Run subscribes to the bus and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed", slog.String("channel", h.channel))

	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "subscription closed", slog.String("channel", h.channel))
				return nil
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	var head struct {
		MarketID string `json:"market_id"`
	}
	_ = json.Unmarshal(data, &head)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(head.MarketID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request. ?market=<id> limits the stream to one
// market.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		market: r.URL.Query().Get("market"),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("client connected", slog.Int("total_clients", h.ClientCount()))
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.market == "" || c.market == marketID
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var f filterMsg
		if json.Unmarshal(message, &f) == nil && f.Market != nil {
			c.mu.Lock()
			c.market = *f.Market
			c.mu.Unlock()
		}
	}
}

// sendHello tells the client the stream is live before any attempt runs.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type":           "settler_status",
		"channel":        c.hub.channel,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

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
