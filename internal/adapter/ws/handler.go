// Package ws streams router activity to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	// agents lists the agent ids the message concerns; used for filtering.
	agents []string
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	agent  string // empty receives everything
}

func (c *conn) wants(msg Message) bool {
	if c.agent == "" || len(msg.agents) == 0 {
		return true
	}
	for _, a := range msg.agents {
		if a == c.agent {
			return true
		}
	}
	return false
}

// Hub manages active WebSocket connections and fans queued messages out to
// them from a single goroutine started by Run.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	origins []string
	out     chan Message
	dropped atomic.Int64
}

// NewHub creates a hub accepting connections from the given origin patterns.
// An empty origin disables the origin check. buffer <= 0 uses the default.
func NewHub(origin string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h := &Hub{
		conns: make(map[*conn]struct{}),
		out:   make(chan Message, buffer),
	}
	if origin != "" {
		h.origins = []string{origin}
	}
	return h
}

// HandleWS upgrades the request to a WebSocket. The optional "agent" query
// parameter limits the stream to events involving that agent.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origins,
		InsecureSkipVerify: len(h.origins) == 0,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, agent: r.URL.Query().Get("agent")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "agent", c.agent)

	// Read loop detects disconnects; clients are not expected to send.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Enqueue schedules msg for broadcast without blocking. Messages are dropped
// when the buffer is full.
func (h *Hub) Enqueue(msg Message) {
	select {
	case h.out <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("websocket buffer full, dropping events", "dropped", n)
		}
	}
}

// Run broadcasts enqueued messages until ctx ends, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.out:
			h.Broadcast(ctx, msg)
		}
	}
}

// Broadcast sends a message to all interested clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.wants(msg) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.conns, c)
	}
}
