package handlers

import (
	"sync"

	"netscope/internal/models"
)

// Client receives broadcast messages. Implementations must not block; the
// capture worker calls Broadcast on its hot path.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Hub fans capture events out to every connected websocket client. It
// implements session.Broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[Client]bool)}
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Unregister removes a client.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Broadcast sends msg to every registered client. The client set is
// snapshotted under the lock and the sends happen outside it.
func (h *Hub) Broadcast(msg models.WSMessage) {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
