// Package transport is the WebSocket framing layer: it upgrades incoming
// HTTP connections, runs the read/write pump pair per connection, and hands
// parsed frames to the session manager.
package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"snake-arena-server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dispatcher is the subset of the session manager transport needs: attach a
// newly upgraded connection, hand it inbound frames, and detach it on close.
// Defining it here (rather than importing internal/session) keeps transport
// below session in the dependency graph, matching the direction traffic
// actually flows (session owns registries, transport is its front door).
type Dispatcher interface {
	Connect(sink models.Sink) string
	HandleMessage(playerID string, raw []byte)
	Disconnect(playerID string)
	Stats() map[string]any
}

// Conn adapts one upgraded websocket.Conn into a models.Sink backed by a
// bounded outbound queue. An overflowing queue means the peer's write pump
// can't keep up; per spec the session is torn down rather than let the
// buffer grow unbounded.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// Send queues frame for delivery. Returns an error if the connection's
// outbound queue is full or already closed; a full queue closes the
// connection rather than blocking or growing without bound.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closeLocal()
		return websocket.ErrCloseSent
	}
}

func (c *Conn) closeLocal() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// Handler upgrades HTTP connections to WebSocket and runs the pump pair,
// forwarding parsed frames to a Dispatcher (the session manager).
type Handler struct {
	dispatcher Dispatcher
}

// NewHandler constructs a transport Handler bound to dispatcher.
func NewHandler(dispatcher Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// ServeWS upgrades the request and blocks for the lifetime of the
// connection, running readPump on the calling goroutine and writePump on a
// spawned one.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade error: %v", err)
		return
	}

	conn := newConn(ws)
	playerID := h.dispatcher.Connect(conn)

	go h.writePump(conn)
	h.readPump(conn, playerID)
}

func (h *Handler) readPump(conn *Conn, playerID string) {
	defer func() {
		h.dispatcher.Disconnect(playerID)
		conn.closeLocal()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read error for %s: %v", playerID, err)
			}
			return
		}
		h.dispatcher.HandleMessage(playerID, message)
	}
}

func (h *Handler) writePump(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(conn.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-conn.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-conn.closed:
			return
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseWithReason sends a close frame carrying code and reason, then shuts
// the connection down (used for idle eviction).
func (c *Conn) CloseWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.closeLocal()
}

// HealthHandler serves GET / with {message, players, lobbies}.
func HealthHandler(dispatcher Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := dispatcher.Stats()
		body := map[string]any{
			"message": "Snake Arena server is running",
			"players": stats["totalPlayers"],
			"lobbies": stats["totalLobbies"],
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}
