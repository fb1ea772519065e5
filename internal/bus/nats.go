package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"soop-chat/backend/pkg/logger"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// NATSOptions configures the NATS driver
type NATSOptions struct {
	URL        string
	User       string
	Password   string
	Name       string
	BufferSize int
}

// NATSBus fans out over core NATS subjects
type NATSBus struct {
	nc     *nats.Conn
	buffer int
	log    *logger.Logger

	// nats never closes a ChanSubscribe channel, so pumps watch done instead
	done      chan struct{}
	closeOnce sync.Once
}

// NewNATSBus connects to NATS and keeps reconnecting in the background
func NewNATSBus(opts NATSOptions, log *logger.Logger) (*NATSBus, error) {
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return newNATSBus(nc, opts.BufferSize, log), nil
}

func newNATSBus(nc *nats.Conn, buffer int, log *logger.Logger) *NATSBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &NATSBus{nc: nc, buffer: buffer, log: log, done: make(chan struct{})}
}

func (b *NATSBus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *NATSBus) Publish(ctx context.Context, topic string, env *Envelope) error {
	if b.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.nc.Publish(topic, data)
}

// Subscribe uses a NATS wildcard subject; "chat.room.*" matches one token
func (b *NATSBus) Subscribe(ctx context.Context, pattern string) (<-chan *Envelope, error) {
	if b.closed() {
		return nil, ErrClosed
	}

	msgs := make(chan *nats.Msg, b.buffer)
	sub, err := b.nc.ChanSubscribe(pattern, msgs)
	if err != nil {
		if b.closed() || errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	if err := b.flush(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	out := make(chan *Envelope, b.buffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-msgs:
				var env Envelope
				if err := json.Unmarshal(msg.Data, &env); err != nil {
					b.log.Warn("Dropping malformed bus payload", "subject", msg.Subject, "error", err.Error())
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
	}()
	return out, nil
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if b.closed() {
		return ErrClosed
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats status %s", b.nc.Status())
	}
	return b.flush(ctx)
}

// flush round-trips to the server. nats requires a deadline on the context.
func (b *NATSBus) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return b.nc.FlushWithContext(ctx)
}

// Close ends every open stream; later calls return ErrClosed
func (b *NATSBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.nc.Close()
	})
	return nil
}
