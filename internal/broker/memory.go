package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type memorySub struct {
	ch   chan []byte
	gone chan struct{}
}

// Memory is an in-process broker. Every Subscribe call acts as a separate
// process, which makes it usable for federation tests and single-node runs.
type Memory struct {
	mu        sync.RWMutex
	subs      map[int]*memorySub
	next      int
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

// NewMemory creates an in-process broker.
func NewMemory(log *zap.Logger) *Memory {
	return &Memory{subs: make(map[int]*memorySub), done: make(chan struct{}), log: log}
}

func (b *Memory) Name() string { return "memory" }

// Publish queues m for every current subscriber.
func (b *Memory) Publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- data:
		case <-s.gone:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe blocks, delivering messages to h.
func (b *Memory) Subscribe(ctx context.Context, h Handler) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	sub := &memorySub{ch: make(chan []byte, 256), gone: make(chan struct{})}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.gone)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case data := <-sub.ch:
			deliver(ctx, b.log, h, data)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Memory) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Memory) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
