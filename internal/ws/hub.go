package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"soop-chat/backend/internal/bus"
	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/observability"
	wire "soop-chat/backend/pkg/ws"

	"github.com/cenkalti/backoff/v4"
)

// Hub maps room topics to the clients attached on this process and relays
// bus traffic to them.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint]map[*Client]struct{}
	clients map[*Client]map[uint]struct{}

	sub     bus.Subscriber
	topics  bus.Topics
	metrics *observability.Metrics
	log     *logger.Logger
	ready   chan struct{}
	once    sync.Once
}

// NewHub creates a hub fed by sub
func NewHub(sub bus.Subscriber, topics bus.Topics, metrics *observability.Metrics, log *logger.Logger) *Hub {
	return &Hub{
		rooms:   make(map[uint]map[*Client]struct{}),
		clients: make(map[*Client]map[uint]struct{}),
		sub:     sub,
		topics:  topics,
		metrics: metrics,
		log:     log.With("component", "ws_hub"),
		ready:   make(chan struct{}),
	}
}

// Run holds the process-wide pattern subscription until ctx ends. A dropped
// subscription is re-established with exponential backoff.
func (h *Hub) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 10 * time.Second

	for {
		stream, err := h.sub.Subscribe(ctx, h.topics.Pattern())
		if err == nil {
			h.once.Do(func() { close(h.ready) })
			h.log.Info("Relay subscribed", "pattern", h.topics.Pattern())
			bo.Reset()
			for env := range stream {
				h.deliver(env)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, bus.ErrClosed) {
			return err
		}

		wait := bo.NextBackOff()
		if err != nil {
			h.log.Warn("Relay subscription failed", "error", err.Error(), "retry_in", wait.String())
		} else {
			h.log.Warn("Relay subscription ended", "retry_in", wait.String())
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// Ready is closed once the relay subscription is first established
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) deliver(env *bus.Envelope) {
	if env.Type != bus.TypeMessage {
		return
	}

	data, err := json.Marshal(wire.Outbound{
		Type:    wire.TypeMessage,
		RoomID:  env.RoomID,
		Message: env.Payload,
	})
	if err != nil {
		h.log.Error("Failed to encode relay frame", "room_id", env.RoomID, "error", err.Error())
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[env.RoomID]))
	for c := range h.rooms[env.RoomID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(data) {
			h.metrics.FanoutDeliveries.Add(context.Background(), 1)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = make(map[uint]struct{})
	h.mu.Unlock()

	h.metrics.WSConnections.Add(context.Background(), 1)
}

// unregister releases every subscription of c
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	rooms, ok := h.clients[c]
	if ok {
		for roomID := range rooms {
			h.detachLocked(c, roomID)
		}
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		h.metrics.WSConnections.Add(context.Background(), -1)
	}
}

func (h *Hub) attach(c *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.clients[c]
	if !ok {
		return
	}
	rooms[roomID] = struct{}{}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

func (h *Hub) detach(c *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(c, roomID)
}

func (h *Hub) detachLocked(c *Client, roomID uint) {
	if rooms, ok := h.clients[c]; ok {
		delete(rooms, roomID)
	}
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// subscriptions returns how many rooms c is attached to
func (h *Hub) subscriptions(c *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[c])
}

// ConnectionCount returns the number of registered clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSubscribers returns how many local clients are attached to roomID
func (h *Hub) RoomSubscribers(roomID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
