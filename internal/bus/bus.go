// Package bus propagates accepted chat messages to every server process.
// Each process holds one pattern subscription and relays what it receives
// to its own locally attached connections.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/logger"
)

// Envelope types
const (
	TypeMessage = "message"
)

// ErrClosed is returned once a bus has been closed
var ErrClosed = errors.New("bus closed")

// Envelope is the unit carried on the bus
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    uint            `json:"roomId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an envelope stamped with the current time
func NewEnvelope(eventType string, roomID uint, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher sends an envelope to a topic without waiting for delivery
type Publisher interface {
	Publish(ctx context.Context, topic string, env *Envelope) error
}

// Subscriber streams envelopes published to topics matching pattern.
// The stream closes when ctx is cancelled or the bus is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (<-chan *Envelope, error)
}

// Bus combines both directions
type Bus interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}

// Topics names the room topics of one deployment
type Topics struct {
	Prefix string
}

// Room returns the topic for roomID
func (t Topics) Room(roomID uint) string {
	return fmt.Sprintf("%s.%d", t.Prefix, roomID)
}

// Pattern matches every room topic. Redis glob and NATS wildcard agree on it.
func (t Topics) Pattern() string {
	return t.Prefix + ".*"
}

// New builds the bus selected by cfg.Bus.Driver
func New(cfg *config.Config, log *logger.Logger) (Bus, error) {
	switch cfg.Bus.Driver {
	case "redis", "":
		return NewRedisBus(RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			BufferSize: cfg.Bus.BufferSize,
		}, log)
	case "nats":
		return NewNATSBus(NATSOptions{
			URL:        cfg.Bus.NATSURL,
			User:       cfg.Bus.NATSUser,
			Password:   cfg.Bus.NATSPass,
			Name:       cfg.Server.ServiceName,
			BufferSize: cfg.Bus.BufferSize,
		}, log)
	case "memory":
		return NewMemoryBus(cfg.Bus.BufferSize), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}
