// Package stream broadcasts decoded samples and analysis results to
// websocket viewers. Delivery is best effort: a slow or wedged viewer
// loses messages, never the producers.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortical-data/affinity.report/internal/monitoring"
)

// Message field values for the wire protocol. Viewers dispatch on the
// type field.
const (
	TypeSample   = "eeg"
	TypeAnalysis = "analysis"
	TypeStatus   = "status"
)

// SampleMessage streams one decoded sample vector.
type SampleMessage struct {
	Type      string    `json:"type"`
	Timestamp float64   `json:"timestamp"` // unix seconds
	PacketNum uint64    `json:"packet_num"`
	Channels  []float64 `json:"channels"`
}

// AnalysisMessage streams one score result. Result is left as an opaque
// marshalled payload so this package does not depend on the analyzer.
type AnalysisMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Result    any     `json:"result"`
}

// StatusMessage tells newly connected viewers whether the board is live.
type StatusMessage struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to connected websocket clients. It is
// an http.Handler; mount it wherever the viewer endpoint should live.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	status  StatusMessage
	dropped uint64
	closed  bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The viewer is served from arbitrary origins during
			// development; the daemon is not an internet-facing service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		status:  StatusMessage{Type: TypeStatus, Connected: false, Message: "waiting for board"},
	}
}

// SetStatus updates the greeting sent to newly connected clients and
// broadcasts the change to current ones.
func (h *Hub) SetStatus(connected bool, message string) {
	h.mu.Lock()
	h.status = StatusMessage{Type: TypeStatus, Connected: connected, Message: message}
	status := h.status
	h.mu.Unlock()
	h.Broadcast(status)
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Debugf("stream: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	status, _ := json.Marshal(h.status)
	count := len(h.clients)
	h.mu.Unlock()

	monitoring.Logf("viewer connected (%d total)", count)

	// Greet with current status; if even this can't be queued the client
	// was dead on arrival.
	select {
	case c.send <- status:
	default:
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast marshals v once and queues it for every client, dropping for
// clients whose buffers are full.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("stream: marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropped++
		}
	}
}

// ClientCount reports the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped reports how many messages were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every client. The hub is unusable afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
		monitoring.Logf("viewer disconnected (%d remaining)", len(h.clients))
	}
}

// writePump drains the client's queue onto the socket. A write error or
// a closed queue ends the connection.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
}

// readPump discards inbound messages; its job is noticing disconnects.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
