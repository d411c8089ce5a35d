package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"halia/internal/config"
	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/logging"
	"halia/pkg/metrics"
	"halia/pkg/retry"
	"halia/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	headers = tracing.InjectTraceContext(ctx, headers)

	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   value,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		return errors.ErrExternalIO.WithCause(fmt.Errorf("failed to write kafka message: %w", err)).AsRetryable()
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg       config.KafkaConfig
	topic     string
	connector string
	wg        sync.WaitGroup
	mu        sync.Mutex
	reader    *kafka.Reader
	logger    logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, topic, connector string, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:       cfg,
		topic:     topic,
		connector: connector,
		logger:    log,
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", c.topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"connector", c.connector,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    c.topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.wg.Add(1)
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.reader == reader {
			c.reader = nil
		}
		c.mu.Unlock()
		_ = reader.Close()
	}()

	consumeCtx := logging.WithServiceName(ctx, c.connector)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", c.topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", c.topic,
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", c.topic,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.connector, m.Topic)
		metrics.ObserveKafkaMessageSize(c.connector, m.Topic, "in", len(m.Value))

		msgCtx, span := tracing.StartConsumeSpan(consumeCtx, c.connector, m)
		if err := c.processMessageWithRetry(msgCtx, m, handler); err != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries, skipping",
				"error", err,
				"topic", m.Topic,
				"offset", m.Offset,
			)
		}
		span.End()

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
				"error", err,
				"topic", m.Topic,
			)
		}
		if lag := reader.Lag(); lag >= 0 {
			metrics.SetKafkaConsumerLag(c.connector, m.Topic, m.Partition, lag)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()

	var err error
	if reader != nil {
		err = reader.Close()
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, m kafka.Message, handler HandlerFunc) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}

	return retry.RetryWithCallback(ctx, policy, func() error {
		err := errors.Safely(func() error { return handler(ctx, m) })
		if stack := errors.PanicStack(err); stack != nil {
			c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
				"topic", m.Topic,
				"stack", string(stack),
			)
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.connector, m.Topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", m.Topic,
		)
	})
}
