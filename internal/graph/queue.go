package graph

import (
	"context"
	"sync"

	"halia/pkg/errors"
	"halia/pkg/message"
)

// Queue is an unbounded single-consumer edge between two stages.
type Queue struct {
	mu     sync.Mutex
	items  []message.RuleBatch
	closed bool
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push never blocks. It fails with ErrChannelClosed after Close.
func (q *Queue) Push(rb message.RuleBatch) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.ErrChannelClosed
	}
	q.items = append(q.items, rb)
	q.mu.Unlock()
	q.notify()
	return nil
}

// Close lets the consumer drain what is queued and then observe closure.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Recv blocks for the next batch. It returns false once the queue is closed
// and drained, or when ctx is done.
func (q *Queue) Recv(ctx context.Context) (message.RuleBatch, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			rb := q.items[0]
			q.items[0] = message.RuleBatch{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return rb, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return message.RuleBatch{}, false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return message.RuleBatch{}, false
		}
	}
}

// Discard releases every queued batch.
func (q *Queue) Discard() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, rb := range items {
		rb.Release()
	}
}

// Input is a batch tagged with the position of the queue it came from.
type Input struct {
	Index int
	Batch message.RuleBatch
}

// FanIn interleaves several queues into one channel, keeping each queue's
// order. The channel closes when every queue is closed and drained, or when
// ctx is done.
func FanIn(ctx context.Context, queues []*Queue) <-chan Input {
	out := make(chan Input)
	var wg sync.WaitGroup
	for i, q := range queues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rb, ok := q.Recv(ctx)
				if !ok {
					return
				}
				select {
				case out <- Input{Index: i, Batch: rb}:
				case <-ctx.Done():
					rb.Release()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
