package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/executor"
)

var _ executor.EventSink = (*Hub)(nil)

// Hub broadcasts execution events to websocket clients. Recent events are
// replayed to the clients that connect late.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// mu serializes the writes on every connection.
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	recent    []executor.Event
	maxRecent int
	closed    bool
}

// NewHub creates a hub keeping the last maxRecent events.
func NewHub(maxRecent int, logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		recent:    make([]executor.Event, 0, maxRecent),
		maxRecent: maxRecent,
	}
}

// Publish implements executor.EventSink.
func (h *Hub) Publish(_ context.Context, ev executor.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > h.maxRecent {
		h.recent = h.recent[len(h.recent)-h.maxRecent:]
	}
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("Failed to send event to client", zap.Error(err))
		}
	}
	return nil
}

// Recent returns the buffered events, oldest first.
func (h *Hub) Recent() []executor.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]executor.Event(nil), h.recent...)
}

// ServeHTTP upgrades the connection and streams the events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	if !h.register(conn) {
		return
	}
	h.logger.Info("Event stream client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		h.logger.Info("Event stream client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	for _, ev := range h.recent {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return false
		}
	}
	h.clients[conn] = true
	return true
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
		client.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}
