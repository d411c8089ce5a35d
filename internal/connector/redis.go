package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/logging"
	"halia/pkg/message"
	"halia/pkg/models"
	"halia/pkg/retry"
)

// RedisSource listens on a pub/sub channel while at least one rule
// subscribes to it.
type RedisSource struct {
	id      string
	channel string
	client  *redis.Client
	logger  logger.Logger
	bc      *broadcaster

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisSource(id, channel string, client *redis.Client, capacity int, log logger.Logger) *RedisSource {
	s := &RedisSource{id: id, channel: channel, client: client, logger: log}
	s.bc = newBroadcaster(capacity, s.setActive)
	return s
}

func (s *RedisSource) ID() string { return s.id }

func (s *RedisSource) Subscribe(context.Context) (<-chan *message.Batch, func(), error) {
	return s.bc.subscribe()
}

func (s *RedisSource) setActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active && s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.run(ctx)
		return
	}
	if !active && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *RedisSource) run(ctx context.Context) {
	defer s.wg.Done()
	ctx = logging.WithServiceName(ctx, s.id)

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()
	s.logger.InfowCtx(ctx, "Started redis subscription", "channel", s.channel)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfowCtx(ctx, "Stopped redis subscription", "channel", s.channel)
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			b, _, err := models.DecodeBatch([]byte(m.Payload))
			if err != nil {
				s.logger.WarnwCtx(ctx, "Dropping undecodable redis payload", "channel", m.Channel, "error", err)
				continue
			}
			if b.IsEmpty() {
				continue
			}
			if b.Name() == "" {
				b.SetName(s.id)
			}
			s.bc.publish(ctx, b)
		}
	}
}

func (s *RedisSource) Close() error {
	s.bc.close()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// RedisWriter publishes each batch envelope to a channel or appends it to a
// list.
type RedisWriter struct {
	id     string
	key    string
	mode   string
	client *redis.Client
}

func NewRedisWriter(id, key, mode string, client *redis.Client) *RedisWriter {
	if mode == "" {
		mode = constants.RedisModePublish
	}
	return &RedisWriter{id: id, key: key, mode: mode, client: client}
}

func (w *RedisWriter) Write(ctx context.Context, b *message.Batch) error {
	payload, _, err := encodeEnvelope(ctx, w.id, b)
	if err != nil {
		return retry.NewFatalError(err)
	}

	switch w.mode {
	case constants.RedisModeList:
		err = w.client.RPush(ctx, w.key, payload).Err()
	default:
		err = w.client.Publish(ctx, w.key, payload).Err()
	}
	if err != nil {
		return errors.ErrExternalIO.WithCause(fmt.Errorf("redis %s to %s failed: %w", w.mode, w.key, err)).AsRetryable()
	}
	return nil
}

// Close leaves the shared client open; the hub owns it.
func (w *RedisWriter) Close() error { return nil }
