package chattest

import (
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/log"
)

// Hub routes MESSAGE frames to the peers subscribed to a destination.
// WebSocket and TCP peers share a single Hub instance.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*peer]string
	logger zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*peer]string),
		logger: logger,
	}
}

// Subscribe registers p on destination under subscription id.
func (h *Hub) Subscribe(p *peer, destination, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[destination]
	if !ok {
		subs = make(map[*peer]string)
		h.topics[destination] = subs
	}
	subs[p] = id
}

// Unsubscribe removes the subscription id of p, wherever it is.
func (h *Hub) Unsubscribe(p *peer, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for dest, subs := range h.topics {
		if subs[p] == id {
			delete(subs, p)
			if len(subs) == 0 {
				delete(h.topics, dest)
			}
		}
	}
}

// Unregister removes every subscription of p.
func (h *Hub) Unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for dest, subs := range h.topics {
		delete(subs, p)
		if len(subs) == 0 {
			delete(h.topics, dest)
		}
	}
}

// Subscribers returns the number of subscriptions on destination.
func (h *Hub) Subscribers(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[destination])
}

// Broadcast queues a MESSAGE frame with body for every subscriber of
// destination. Slow peers drop frames rather than block the hub.
func (h *Hub) Broadcast(destination, messageID string, body []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for p, id := range h.topics[destination] {
		f := frame.New("MESSAGE",
			"destination", destination,
			"subscription", id,
			"message-id", messageID,
			"content-type", "application/json",
		)
		f.Body = body
		select {
		case p.outgoing <- f:
		default:
			h.logger.Warn().Str("peer", p.id).Str(log.FieldDestination, destination).Msg("outgoing queue full, dropping frame")
		}
	}
}
