// Package connector provides the source and sink collaborators rules attach
// to: in-process channels, Kafka topics and Redis channels or lists.
package connector

import (
	"context"

	"halia/pkg/message"
)

// Source hands every subscriber its own stream of batches. The returned
// function ends the subscription.
type Source interface {
	Subscribe(ctx context.Context) (<-chan *message.Batch, func(), error)
}

// Sink accepts batches from rules. Senders are reference-counted per rule id;
// the writer loop stops once the last rule has released its sender.
type Sink interface {
	GetTx(ruleID string) (chan<- *message.Batch, error)
	DelTx(ruleID string)
}

type Registry interface {
	Source(id string) (Source, error)
	Sink(id string) (Sink, error)
}

// Writer delivers one batch to a sink's external target.
type Writer interface {
	Write(ctx context.Context, b *message.Batch) error
	Close() error
}
