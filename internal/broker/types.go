package broker

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
	Close() error
}

type Consumer interface {
	// Consume blocks until ctx is done, handing every fetched record to handler.
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg kafka.Message) error
