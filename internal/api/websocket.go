package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// PushType labels the session-state and alert events the API pushes to
// connected WebSocket clients.
type PushType string

const (
	PushSessionUpdate PushType = "session_update"
	PushAlert         PushType = "alert"
	PushTrade         PushType = "trade"
	PushPing          PushType = "ping"
	PushPong          PushType = "pong"
)

// PushMessage is the wire envelope for every pushed event.
type PushMessage struct {
	Type      PushType        `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// wsClient is one connected WebSocket peer.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session-state changes and alerts out to every connected
// WebSocket client. It doubles as a coordinator.Notifier so alert pushes
// need no extra glue.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub constructs a Hub; call Run on its own goroutine.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run is the hub's main loop; returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("total_clients", n).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("total_clients", n).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes one event to every connected client. Best effort: a
// full hub channel drops the message rather than blocking the caller.
func (h *Hub) Broadcast(pushType PushType, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msgBytes, err := json.Marshal(PushMessage{Type: pushType, Timestamp: time.Now(), Data: dataBytes})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msgBytes:
	default:
		h.log.Debug().Str("type", string(pushType)).Msg("websocket broadcast buffer full, dropping")
	}
	return nil
}

// Notify implements coordinator.Notifier by broadcasting the alert.
func (h *Hub) Notify(ctx context.Context, alert types.Alert) error {
	return h.Broadcast(PushAlert, alert)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The session control API is same-host tooling; the dashboard may be
	// served from a different port in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws and registers the peer with the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 64)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers client pings; everything else is ignored, the
// push surface is one-directional.
func (c *wsClient) handleMessage(message []byte) {
	var msg PushMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if msg.Type != PushPing {
		return
	}
	pong, err := json.Marshal(PushMessage{Type: PushPong, Timestamp: time.Now(), Data: json.RawMessage(`{}`)})
	if err != nil {
		return
	}
	select {
	case c.send <- pong:
	default:
	}
}
