package connector

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/message"
	"halia/pkg/metrics"
)

const defaultRetryEvery = 5 * time.Second

// SinkOptions tune a ChannelSink. Zero values fall back to defaults.
type SinkOptions struct {
	Capacity   int
	Retention  *Retention
	RetryEvery time.Duration
	Clock      clockwork.Clock
	Logger     logger.Logger
}

// ChannelSink is the rule-facing half of every sink: rules send into a shared
// bounded channel and one writer loop delivers to the Writer. Batches that
// fail are retained and retried before newer ones, and periodically while
// the channel is idle.
type ChannelSink struct {
	id        string
	writer    Writer
	capacity  int
	retention *Retention
	every     time.Duration
	clock     clockwork.Clock
	logger    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	refs   map[string]int
	in     chan *message.Batch
	last   chan struct{}
	closed bool
}

func NewChannelSink(id string, writer Writer, opts SinkOptions) *ChannelSink {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Retention == nil {
		opts.Retention = NewRetention(defaultRetentionConfig(), opts.Clock)
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = defaultRetryEvery
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelSink{
		id:        id,
		writer:    writer,
		capacity:  opts.Capacity,
		retention: opts.Retention,
		every:     opts.RetryEvery,
		clock:     opts.Clock,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		refs:      make(map[string]int),
	}
}

func (s *ChannelSink) ID() string { return s.id }

func (s *ChannelSink) GetTx(ruleID string) (chan<- *message.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrChannelClosed.WithMessage("sink %s is closed", s.id)
	}
	if s.in == nil {
		s.in = make(chan *message.Batch, s.capacity)
		prev, done := s.last, make(chan struct{})
		s.last = done
		s.wg.Add(1)
		go s.loop(s.in, prev, done)
	}
	s.refs[ruleID]++
	return s.in, nil
}

// DelTx releases one sender held by ruleID. The rule must no longer send on
// it.
func (s *ChannelSink) DelTx(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.refs[ruleID]
	if !ok {
		return
	}
	if n > 1 {
		s.refs[ruleID] = n - 1
		return
	}
	delete(s.refs, ruleID)
	if len(s.refs) == 0 && s.in != nil {
		close(s.in)
		s.in = nil
	}
}

// Holders reports how many rules hold a sender.
func (s *ChannelSink) Holders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Retained reports how many batches wait for the target to recover.
func (s *ChannelSink) Retained() int { return s.retention.Len() }

// loop starts once the loop of the previous channel, if any, has flushed, so
// only one loop writes at a time.
func (s *ChannelSink) loop(in <-chan *message.Batch, prev <-chan struct{}, done chan<- struct{}) {
	defer s.wg.Done()
	defer close(done)
	if prev != nil {
		<-prev
	}
	ticker := s.clock.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-in:
			if !ok {
				s.flushRetained()
				return
			}
			s.deliver(b)
		case <-ticker.Chan():
			s.flushRetained()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ChannelSink) deliver(b *message.Batch) {
	if !s.flushRetained() {
		s.retain(b)
		return
	}
	if err := s.write(b); err != nil {
		s.retain(b)
	}
}

// flushRetained writes held batches oldest first and reports whether all of
// them went out.
func (s *ChannelSink) flushRetained() bool {
	pending := s.retention.drain()
	for i, r := range pending {
		if err := s.write(r.batch); err != nil {
			s.retention.requeue(pending[i:])
			metrics.SetSinkRetained(s.id, s.retention.Len())
			return false
		}
	}
	if len(pending) > 0 {
		s.logger.Infow("Flushed retained batches", "sink_id", s.id, "count", len(pending))
		metrics.SetSinkRetained(s.id, 0)
	}
	return true
}

func (s *ChannelSink) write(b *message.Batch) error {
	start := time.Now()
	err := s.writer.Write(s.ctx, b)
	metrics.ObserveSinkWriteDuration(s.id, time.Since(start))
	if err != nil {
		metrics.IncSinkWrite(s.id, "error")
		s.logger.Warnw("Sink write failed", "sink_id", s.id, "messages", b.Len(), "error", err)
		return err
	}
	metrics.IncSinkWrite(s.id, "success")
	return nil
}

func (s *ChannelSink) retain(b *message.Batch) {
	if dropped := s.retention.Keep(b); dropped > 0 {
		metrics.IncSinkWrite(s.id, "dropped")
		s.logger.Warnw("Retention dropped batches", "sink_id", s.id, "count", dropped)
	}
	metrics.SetSinkRetained(s.id, s.retention.Len())
}

// Close stops accepting senders and lets the writer loop drain until ctx
// is done, then aborts them and closes the writer. Every rule must have
// stopped sending before Close.
func (s *ChannelSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.in != nil {
		close(s.in)
		s.in = nil
	}
	s.refs = make(map[string]int)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	return s.writer.Close()
}
