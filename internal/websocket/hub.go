package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

const (
	TypeReminder = "reminder_state"
	TypeBadge    = "badge_count"
)

// Message is a live update pushed to presentation clients.
type Message struct {
	Type     string      `json:"type"`
	Reminder *model.Key  `json:"reminder,omitempty"`
	Label    string      `json:"label,omitempty"`
	State    model.State `json:"state,omitempty"`
	Count    *int        `json:"count,omitempty"`
	At       time.Time   `json:"at"`
}

// EventMessage wraps a notification event.
func EventMessage(ev model.NotificationEvent) Message {
	key := ev.ReminderKey
	return Message{
		Type:     TypeReminder,
		Reminder: &key,
		Label:    ev.Label,
		State:    ev.State,
		At:       ev.FiredAt,
	}
}

// BadgeMessage carries the current due plus overdue count.
func BadgeMessage(count int, at time.Time) Message {
	return Message{Type: TypeBadge, Count: &count, At: at}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger

	// last badge is replayed to clients as they connect
	badge []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client and queues the latest badge for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.badge != nil {
		select {
		case c.send <- h.badge:
		default:
		}
	}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients without blocking.
// It returns the number of clients the message was queued for.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Type == TypeBadge {
		h.badge = data
	}

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			sent++
		default:
			// Client buffer full: drop rather than block the caller
			h.logger.Debug("dropping message for slow client", "type", msg.Type)
		}
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
