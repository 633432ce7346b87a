package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"unicornio-backend/internal/shared/metrics"
	"unicornio-backend/internal/shared/telemetry"
)

const outboundBuffer = 8

// Client is one event-stream subscriber for a single entrepreneur id.
type Client struct {
	ID            uuid.UUID
	EmprendedorID string
	Outbound      chan Event

	closeOnce sync.Once
}

// Hub fans events out to the clients subscribed to each entrepreneur id.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subscriptions: make(map[string]map[*Client]struct{})}
}

// Subscribe registers a client for events about id.
func (h *Hub) Subscribe(id string) *Client {
	id = strings.TrimSpace(id)
	client := &Client{
		ID:            uuid.New(),
		EmprendedorID: id,
		Outbound:      make(chan Event, outboundBuffer),
	}

	h.mu.Lock()
	clients, ok := h.subscriptions[id]
	if !ok {
		clients = make(map[*Client]struct{})
		h.subscriptions[id] = clients
	}
	clients[client] = struct{}{}
	h.mu.Unlock()

	metrics.AddSSEClients(1)
	return client
}

// Unsubscribe removes client and closes its outbound channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(client *Client) {
	client.closeOnce.Do(func() {
		h.mu.Lock()
		if clients, ok := h.subscriptions[client.EmprendedorID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, client.EmprendedorID)
			}
		}
		close(client.Outbound)
		h.mu.Unlock()
		metrics.AddSSEClients(-1)
	})
}

// Broadcast delivers ev to every subscriber of its id without blocking. A
// subscriber with a full buffer misses the event.
func (h *Hub) Broadcast(ev Event) {
	if ev.EmprendedorID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[ev.EmprendedorID] {
		select {
		case c.Outbound <- ev:
		default:
			telemetry.Warn("realtime.event_dropped", map[string]any{
				"client_id":      c.ID.String(),
				"emprendedor_id": ev.EmprendedorID,
				"estado":         ev.State,
			})
		}
	}
}

// Publish implements Publisher for in-process delivery.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	_ = ctx
	h.Broadcast(ev)
	return nil
}

// Subscribers returns the number of clients watching id.
func (h *Hub) Subscribers(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[id])
}
