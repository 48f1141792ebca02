// Package broadcast fans game events out to websocket subscribers and
// answers full-state resync requests.
package broadcast

import (
	"sync"

	"andarbahar_service/internal/game"
	"go.uber.org/zap"
)

// Hub tracks which clients follow which game. It never blocks on a slow
// client: frames to a full send buffer are dropped and the client is
// expected to resync.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
	clients     map[*Client]struct{}
	log         *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		log:         log,
	}
}

// Publish satisfies game.EventSink.
func (h *Hub) Publish(gameID string, ev game.Event) {
	msg, err := Encode(ev.EventType(), gameID, ev)
	if err != nil {
		h.log.Error("encode event failed", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}
	h.broadcast(gameID, msg)
}

func (h *Hub) broadcast(gameID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subscribers[gameID]))
	for c := range h.subscribers[gameID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			h.log.Warn("dropped frame for slow client",
				zap.String("client_id", c.id), zap.String("game_id", gameID))
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for gameID, subs := range h.subscribers {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscribers, gameID)
		}
	}
}

func (h *Hub) subscribe(c *Client, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[gameID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscribers[gameID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[gameID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscribers, gameID)
		}
	}
}

// Subscribers reports how many clients follow gameID.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[gameID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
