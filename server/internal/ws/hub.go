package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodealert/nodealert/pkg/types"
	"github.com/nodealert/nodealert/server/internal/metrics"
	"github.com/nodealert/nodealert/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64

	// recentOnConnect caps the alerts replayed to a new client.
	recentOnConnect = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event names sent to clients.
const (
	EventRecent    = "recent"
	EventAlerts    = "alerts"
	EventHeartbeat = "heartbeat"
)

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Heartbeat is the payload of EventHeartbeat.
type Heartbeat struct {
	Time    time.Time `json:"time"`
	Clients int       `json:"clients"`
}

// Hub manages WebSocket client connections and pushes published alerts to
// every client whose filter matches.
type Hub struct {
	recent    *store.Recent
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	filter store.Filter
}

// New creates a Hub. New clients receive recent alerts from st (which may be
// nil); every heartbeat interval all clients receive a heartbeat message.
func New(st *store.Recent, heartbeat time.Duration) *Hub {
	return &Hub{
		recent:    st,
		heartbeat: heartbeat,
		clients:   make(map[*client]struct{}),
	}
}

// Run starts the heartbeat loop. It blocks until ctx is cancelled, then
// closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case now := <-t.C:
			data, err := json.Marshal(Message{Event: EventHeartbeat, Data: Heartbeat{Time: now.UTC(), Clients: h.Count()}})
			if err != nil {
				continue
			}
			h.fanout(func(*client) ([]byte, bool) { return data, true })
		}
	}
}

// Name identifies the hub as an alert sink.
func (h *Hub) Name() string { return "ws" }

// Send pushes alerts to every matching client. It never blocks on a slow
// client: one whose buffer is full is disconnected.
func (h *Hub) Send(_ context.Context, alerts []types.Alert) error {
	h.fanout(func(c *client) ([]byte, bool) {
		matched := make([]types.Alert, 0, len(alerts))
		for _, a := range alerts {
			if c.match(a) {
				matched = append(matched, a)
			}
		}
		if len(matched) == 0 {
			return nil, false
		}
		data, err := json.Marshal(Message{Event: EventAlerts, Data: matched})
		return data, err == nil
	})
	return nil
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Query parameters entity_id, parent_id and severity filter the stream. Recent
// matching alerts are sent immediately on connect. Blocks until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	q := r.URL.Query()
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		filter: store.Filter{
			EntityID: q.Get("entity_id"),
			ParentID: q.Get("parent_id"),
			Severity: q.Get("severity"),
			Limit:    recentOnConnect,
		},
	}
	h.register(c)
	defer h.unregister(c)

	if h.recent != nil {
		recent := h.recent.List(c.filter)
		if data, err := json.Marshal(Message{Event: EventRecent, Data: recent}); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (c *client) match(a types.Alert) bool {
	return (c.filter.EntityID == "" || a.EntityID == c.filter.EntityID) &&
		(c.filter.ParentID == "" || a.ParentID == c.filter.ParentID) &&
		(c.filter.Severity == "" || a.Severity == c.filter.Severity)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

// fanout sends build(c)'s payload to every client for which it returns true.
func (h *Hub) fanout(build func(*client) ([]byte, bool)) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		data, ok := build(c)
		if !ok {
			continue
		}
		if !h.trySend(c, data) {
			// Client's outgoing buffer is full; disconnect it.
			h.unregister(c)
		}
	}
}

// trySend queues data unless the buffer is full. The read lock keeps
// unregister from closing c.send mid-send.
func (h *Hub) trySend(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WSClients.Set(0)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
