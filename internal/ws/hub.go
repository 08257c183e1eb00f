package ws

import (
	"encoding/json"
	"sync"
)

// Client is a single WebSocket connection of an authenticated user.
type Client struct {
	UserID string
	Role   string
	Send   chan []byte
	Hub    *Hub
	mu     sync.Mutex
	closed bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
	close(c.Send)
}

// Hub tracks connected clients by user so payment updates reach every tab a buyer has open.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byUser: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.UserID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// SendToUser queues payload for each of the user's connections. Slow clients miss frames
// rather than block the caller. It reports how many connections accepted the frame.
func (h *Hub) SendToUser(userID string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.byUser[userID] {
		select {
		case c.Send <- data:
			sent++
		default:
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.byUser {
		n += len(m)
	}
	return n
}
