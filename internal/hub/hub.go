// Package hub implements the WebSocket fan-out for the live dashboard feed.
// Clients connect at /api/ws and receive every event the station broadcasts;
// the hub never blocks the sampling pipeline on a slow client.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

// writeWait bounds how long a broadcast waits on one client before the
// connection is considered dead and dropped.
const writeWait = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same origin; the stock sketch
	// accepted any client and so do we.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
}

// Hub tracks connected WebSocket clients and broadcasts JSON events to all
// of them.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Broadcast sends a text message to every connected client. Clients whose
// write fails or times out are closed and removed.
func (h *Hub) Broadcast(payload []byte) {
	for _, c := range h.snapshot() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			monitoring.Logf("dropping websocket client %s: %v", c.id, err)
			_ = c.conn.Close()
			h.remove(c.id)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.conn.Close()
		h.remove(c.id)
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it
// with the hub. The read loop exists only to notice client disconnects; the
// feed is one-way.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	h.add(c)
	monitoring.Logf("websocket client %s connected (%d total)", c.id, h.ClientCount())

	defer func() {
		h.remove(c.id)
		conn.Close()
		monitoring.Logf("websocket client %s disconnected", c.id)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
