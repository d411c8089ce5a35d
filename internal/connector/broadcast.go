package connector

import (
	"context"
	"sync"

	"halia/pkg/errors"
	"halia/pkg/message"
)

type subscriber struct {
	ch   chan *message.Batch
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// broadcaster gives every subscriber its own copy of each published batch.
// Sends block while a subscriber's channel is full, so a slow rule slows its
// source down instead of losing data.
type broadcaster struct {
	capacity int
	// onActive is called with true when the first subscriber arrives and
	// with false when the last one leaves. It must not block.
	onActive func(active bool)

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64

	sendMu sync.RWMutex
	closed bool
}

func newBroadcaster(capacity int, onActive func(bool)) *broadcaster {
	if capacity < 1 {
		capacity = 1
	}
	return &broadcaster{
		capacity: capacity,
		onActive: onActive,
		subs:     make(map[uint64]*subscriber),
	}
}

func (b *broadcaster) subscribe() (<-chan *message.Batch, func(), error) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return nil, nil, errors.ErrChannelClosed
	}

	sub := &subscriber{
		ch:   make(chan *message.Batch, b.capacity),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	first := len(b.subs) == 1
	if first && b.onActive != nil {
		b.onActive(true)
	}
	b.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			sub.stop()
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				if len(b.subs) == 0 && b.onActive != nil {
					b.onActive(false)
				}
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, release, nil
}

func (b *broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// publish delivers batch to every current subscriber and reports how many
// received it. The last subscriber gets the batch itself, the others a copy.
func (b *broadcaster) publish(ctx context.Context, batch *message.Batch) int {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return 0
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	delivered := 0
	for i, s := range subs {
		out := batch
		if i < len(subs)-1 {
			out = batch.Clone()
		}
		select {
		case s.ch <- out:
			delivered++
		case <-s.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

// close ends every subscription by closing the subscriber channels.
func (b *broadcaster) close() {
	// Unblock publishers first so the write lock can be taken.
	b.mu.Lock()
	for _, s := range b.subs {
		s.stop()
	}
	b.mu.Unlock()

	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
		close(s.ch)
	}
}
