package connector

import (
	"context"
	"sync"

	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/message"
)

// MemorySource is an in-process source. Batches published to it reach every
// running rule that reads it.
type MemorySource struct {
	id string
	bc *broadcaster
}

func NewMemorySource(id string, capacity int) *MemorySource {
	return &MemorySource{id: id, bc: newBroadcaster(capacity, nil)}
}

func (s *MemorySource) ID() string { return s.id }

func (s *MemorySource) Subscribe(context.Context) (<-chan *message.Batch, func(), error) {
	return s.bc.subscribe()
}

// Publish hands b to the current subscribers and reports how many got it.
// It blocks while a subscriber is full, until ctx is done.
func (s *MemorySource) Publish(ctx context.Context, b *message.Batch) (int, error) {
	if b == nil || b.IsEmpty() {
		return 0, errors.ErrValidation.WithMessage("batch must contain at least one message")
	}
	if b.Name() == "" {
		b.SetName(s.id)
	}
	return s.bc.publish(ctx, b), nil
}

func (s *MemorySource) Subscribers() int { return s.bc.subscribers() }

func (s *MemorySource) Close() error {
	s.bc.close()
	return nil
}

// MemoryWriter keeps the most recent batches written to it.
type MemoryWriter struct {
	keep   int
	logger logger.Logger

	mu      sync.Mutex
	batches []*message.Batch
}

func NewMemoryWriter(keep int, log logger.Logger) *MemoryWriter {
	if keep < 1 {
		keep = 1
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &MemoryWriter{keep: keep, logger: log}
}

func (w *MemoryWriter) Write(_ context.Context, b *message.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, b)
	if over := len(w.batches) - w.keep; over > 0 {
		clear(w.batches[:over])
		w.batches = w.batches[over:]
	}
	w.logger.Debugw("Memory sink received batch", "name", b.Name(), "messages", b.Len())
	return nil
}

// Batches returns the retained batches, oldest first.
func (w *MemoryWriter) Batches() []*message.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*message.Batch(nil), w.batches...)
}

func (w *MemoryWriter) Close() error { return nil }
