package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket envelope message types pushed to or received from clients.
const (
	msgIdentify           = "identify"
	msgPing               = "ping"
	msgPong               = "pong"
	msgLibraryUpdated     = "library_updated"
	msgSongAdded          = "song_added"
	msgSongRemoved        = "song_removed"
	msgClientConnected    = "client_connected"
	msgClientDisconnected = "client_disconnected"
	msgServerShutdown     = "server_shutdown"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// Envelope is the wire format for every WebSocket message.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

func newEnvelope(msgType string, data interface{}) Envelope {
	return Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans server events out to every connected WebSocket client.
type Hub struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast pushes an event to every connected client. Slow clients that
// cannot drain their queue are dropped rather than stalling the rest.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(newEnvelope(msgType, data))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("Dropping slow WebSocket client")
			delete(h.clients, client)
			client.stop()
		}
	}
}

// Shutdown notifies all clients the server is going away and closes them.
func (h *Hub) Shutdown() {
	h.Broadcast(msgServerShutdown, nil)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		client.stop()
		delete(h.clients, client)
	}
}

func (h *Hub) add(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	client.stop()
}

// Count returns the number of connected WebSocket clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// wsClient's send channel is never closed; Broadcast, reply and the pumps
// may all race on it. Teardown is signalled through done instead, so a
// late reply can never hit a closed channel and panic a server goroutine.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logrus.Logger
}

// stop signals both pumps to wind down. Safe to call from any goroutine,
// any number of times.
func (c *wsClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	if !client.hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes client messages. Parse failures are logged and the
// malformed message dropped; the connection stays alive.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			return
		}

		var msg Envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WithError(err).Warn("Dropping malformed WebSocket message")
			continue
		}

		switch msg.Type {
		case msgPing:
			c.reply(msgPong, nil)
		case msgIdentify:
			c.logger.WithField("data", msg.Data).Debug("WebSocket client identified")
		default:
			c.logger.WithField("type", msg.Type).Debug("Ignoring unknown WebSocket message")
		}
	}
}

func (c *wsClient) reply(msgType string, data interface{}) {
	payload, err := json.Marshal(newEnvelope(msgType, data))
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	default:
	}
}

// writePump delivers queued messages and keeps the connection alive with
// protocol-level pings. It owns the connection close: on stop it drains
// whatever is still queued (the shutdown notice, typically) before sending
// the close frame.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case payload := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					c.conn.WriteMessage(websocket.TextMessage, payload)
				default:
					c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
