package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pulse-agent/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback; views are served from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans events out to connected WebSocket views. Clients register on
// connect and receive the latest sync state immediately; slow consumers
// are dropped rather than allowed to block the loop.
type Hub struct {
	logger *logrus.Entry

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewHub creates a hub. The server runs it.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		logger:     logging.WithComponent(logger, "hub"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// run is the hub loop. It owns the client set; nothing else touches it.
func (h *Hub) run() {
	defer close(h.doneCh)

	clients := make(map[*wsClient]struct{})
	var latest []byte

	for {
		select {
		case <-h.stopCh:
			for client := range clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			clients[client] = struct{}{}
			if latest != nil {
				client.send <- latest
			}
			h.logger.WithField("clients", len(clients)).Debug("View connected")

		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}

		case message := <-h.broadcast:
			latest = message
			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it so the loop never blocks.
					delete(clients, client)
					close(client.send)
					h.logger.Debug("Dropped slow view client")
				}
			}
		}
	}
}

// stop shuts the loop down and disconnects every client.
func (h *Hub) stop() {
	close(h.stopCh)
	<-h.doneCh
}

// broadcastJSON queues an event for every client. Events are dropped when
// the queue is full; the next state change supersedes them anyway.
func (h *Hub) broadcastJSON(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode event")
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.stopCh:
	default:
		h.logger.Debug("Broadcast queue full, event dropped")
	}
}

// wsClient is one connected view.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// handleWebSocket upgrades the connection and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.stopCh:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings. A closed send channel ends the session.
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

// readPump discards inbound frames, enforcing the pong deadline. The API
// is push-only; reads exist to notice the peer going away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopCh:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
