package bus

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"sync/atomic"
)

type memorySub struct {
	pattern string
	ch      chan *Envelope
}

// MemoryBus delivers within a single process. It backs tests and
// single-node deployments that run without a broker.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[*memorySub]struct{}
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewMemoryBus creates an in-process bus with per-subscriber buffers of size buffer
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBus{
		subs:   make(map[*memorySub]struct{}),
		buffer: buffer,
	}
}

// Publish copies env to every subscriber whose pattern matches topic.
// A full subscriber buffer drops the envelope rather than block the sender.
func (b *MemoryBus) Publish(ctx context.Context, topic string, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// round-trip through JSON so subscribers never share memory with the publisher
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		if ok, _ := path.Match(sub.pattern, topic); !ok {
			continue
		}
		var copied Envelope
		if err := json.Unmarshal(data, &copied); err != nil {
			return err
		}
		select {
		case sub.ch <- &copied:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers pattern using path.Match syntax
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string) (<-chan *Envelope, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	sub := &memorySub{pattern: pattern, ch: make(chan *Envelope, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch, nil
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Dropped reports how many envelopes were discarded on full buffers
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *MemoryBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	return nil
}
