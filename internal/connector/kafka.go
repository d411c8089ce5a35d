package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"halia/internal/broker"
	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/logging"
	"halia/pkg/message"
	"halia/pkg/metrics"
	"halia/pkg/models"
	"halia/pkg/retry"
)

// KafkaSource consumes a topic while at least one rule subscribes to it.
// Records carry either a BatchEnvelope or plain JSON messages.
type KafkaSource struct {
	id       string
	topic    string
	consumer broker.Consumer
	logger   logger.Logger
	bc       *broadcaster

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafkaSource(id, topic string, consumer broker.Consumer, capacity int, log logger.Logger) *KafkaSource {
	s := &KafkaSource{id: id, topic: topic, consumer: consumer, logger: log}
	s.bc = newBroadcaster(capacity, s.setActive)
	return s
}

func (s *KafkaSource) ID() string { return s.id }

func (s *KafkaSource) Subscribe(context.Context) (<-chan *message.Batch, func(), error) {
	return s.bc.subscribe()
}

func (s *KafkaSource) setActive(active bool) {
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

func (s *KafkaSource) run(ctx context.Context) {
	defer s.wg.Done()
	ctx = logging.WithServiceName(ctx, s.id)
	err := s.consumer.Consume(ctx, func(ctx context.Context, m kafka.Message) error {
		b, env, err := models.DecodeBatch(m.Value)
		if err != nil {
			return retry.NewFatalError(errors.ErrValidation.WithCause(err))
		}
		if b.IsEmpty() {
			return nil
		}
		if env != nil && env.Metadata.TraceID != "" {
			ctx = logging.WithTraceID(ctx, env.Metadata.TraceID)
		}
		if b.Name() == "" {
			b.SetName(s.id)
		}
		if n := s.bc.publish(ctx, b); n == 0 {
			s.logger.DebugwCtx(ctx, "Kafka batch had no subscribers", "topic", m.Topic)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorwCtx(ctx, "Kafka source stopped", "topic", s.topic, "error", err)
	}
}

func (s *KafkaSource) Close() error {
	s.bc.close()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	err := s.consumer.Close()
	s.wg.Wait()
	return err
}

// KafkaWriter publishes each batch as one BatchEnvelope record.
type KafkaWriter struct {
	id       string
	topic    string
	producer broker.Producer
}

func NewKafkaWriter(id, topic string, producer broker.Producer) *KafkaWriter {
	return &KafkaWriter{id: id, topic: topic, producer: producer}
}

func (w *KafkaWriter) Write(ctx context.Context, b *message.Batch) error {
	payload, id, err := encodeEnvelope(ctx, w.id, b)
	if err != nil {
		return retry.NewFatalError(err)
	}

	headers := []kafka.Header{{Key: constants.HeaderMessageID, Value: []byte(id)}}
	if b.Name() != "" {
		headers = append(headers, kafka.Header{Key: constants.HeaderBatchName, Value: []byte(b.Name())})
	}
	if err := w.producer.Publish(ctx, w.topic, id, payload, headers...); err != nil {
		return err
	}

	metrics.IncKafkaMessagesWritten(w.id, w.topic)
	metrics.ObserveKafkaMessageSize(w.id, w.topic, "out", len(payload))
	return nil
}

// Close leaves the shared producer open; the hub owns it.
func (w *KafkaWriter) Close() error { return nil }

func encodeEnvelope(ctx context.Context, sinkID string, b *message.Batch) ([]byte, string, error) {
	id := uuid.New().String()
	env, err := models.NewBatchEnvelopeBuilder().
		WithID(id).
		WithSource(constants.ServiceName).
		WithBatch(b).
		WithMetadata(models.Metadata{
			TraceID: logging.GetTraceID(ctx),
			RuleID:  logging.GetRuleID(ctx),
			SinkID:  sinkID,
		}).
		Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode batch: %w", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return payload, id, nil
}
