package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"soop-chat/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis Pub/Sub driver
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	BufferSize int
}

// RedisBus fans out over Redis Pub/Sub. Redis does not persist pub/sub
// traffic, so a subscriber that is down misses envelopes; history reads
// from the message store cover that gap.
type RedisBus struct {
	client *redis.Client
	buffer int
	log    *logger.Logger

	mu   sync.Mutex
	subs []*redis.PubSub

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisBus connects to Redis and verifies the connection
func NewRedisBus(opts RedisOptions, log *logger.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisBus(client, opts.BufferSize, log), nil
}

func newRedisBus(client *redis.Client, buffer int, log *logger.Logger) *RedisBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisBus{client: client, buffer: buffer, log: log, done: make(chan struct{})}
}

func (b *RedisBus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, env *Envelope) error {
	if b.closed() {
		return ErrClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, topic, data).Err()
}

// Subscribe issues a PSUBSCRIBE and waits for the server to confirm it
func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (<-chan *Envelope, error) {
	if b.closed() {
		return nil, ErrClosed
	}

	ps := b.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		if b.closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	b.mu.Lock()
	if b.closed() {
		b.mu.Unlock()
		ps.Close()
		return nil, ErrClosed
	}
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	out := make(chan *Envelope, b.buffer)
	go b.pump(ctx, ps, out)
	return out, nil
}

func (b *RedisBus) pump(ctx context.Context, ps *redis.PubSub, out chan<- *Envelope) {
	defer close(out)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("Dropping malformed bus payload", "channel", msg.Channel, "error", err.Error())
				continue
			}

			select {
			case out <- &env:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	if b.closed() {
		return ErrClosed
	}
	return b.client.Ping(ctx).Err()
}

// Close ends every open stream; later calls return ErrClosed
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		for _, ps := range b.subs {
			ps.Close()
		}
		b.subs = nil
		b.mu.Unlock()

		err = b.client.Close()
	})
	return err
}
