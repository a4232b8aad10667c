// Package ws streams prediction cycle and unlock events to dashboard
// clients over WebSocket. The hub implements the events publisher port so it
// can sit behind the same fan-out as the message bus.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}

	originPatterns []string
	log            *slog.Logger
}

// NewHub creates a hub. allowedOrigin is the dashboard's base URL; its host
// becomes the accepted cross-origin pattern. Empty means same-origin and
// non-browser clients only.
func NewHub(allowedOrigin string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}

	var patterns []string
	if allowedOrigin != "" {
		if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
			patterns = []string{u.Host}
		} else {
			patterns = []string{allowedOrigin}
		}
	}

	return &Hub{
		conns:          make(map[*conn]struct{}),
		originPatterns: patterns,
		log:            log,
	}
}

// HandleWS upgrades the request to a WebSocket connection and registers it
// with the hub. Cross-origin upgrades are only accepted from the configured
// dashboard origin.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, _, err := ws.Read(ctx)
			if err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}
