// Package notify relays routing events to connected officers over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/armslicense/armslicense/internal/routing"
)

// client is one connected WebSocket session.
type client struct {
	hub    *Hub
	role   string
	userID int64
	send   chan []byte
}

// Hub tracks connected clients and fans events out to those concerned.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan routing.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	adminRole  string
}

// NewHub constructs a Hub. Clients holding adminRole receive every event.
func NewHub(adminRole string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan routing.Event, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
		adminRole:  adminRole,
	}
}

// Run dispatches events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("notification client connected", slog.String("role", c.role), slog.Int64("user_id", c.userID))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case evt := <-h.broadcast:
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Warn("encode routing event", slog.Any("error", err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !h.concerns(c, evt) {
					continue
				}
				select {
				case c.send <- payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues evt for delivery. It drops the event when the hub is saturated.
func (h *Hub) Publish(evt routing.Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("notification hub saturated, dropping event", slog.Int64("application_id", evt.ApplicationID))
	}
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// concerns reports whether c should see evt: the receiving role (narrowed to
// one officer when the case was returned to a user), the actor, and admins.
func (h *Hub) concerns(c *client, evt routing.Event) bool {
	if h.adminRole != "" && c.role == h.adminRole {
		return true
	}
	if c.userID == evt.ActorUserID && c.role == evt.ActorRole {
		return true
	}
	if c.role != evt.ToRole {
		return false
	}
	return evt.ToUserID == nil || *evt.ToUserID == c.userID
}
