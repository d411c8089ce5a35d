package models

import (
	"time"

	"halia/pkg/message"
)

type BatchEnvelopeBuilder struct {
	envelope *BatchEnvelope
	batch    *message.Batch
}

func NewBatchEnvelopeBuilder() *BatchEnvelopeBuilder {
	return &BatchEnvelopeBuilder{
		envelope: &BatchEnvelope{},
	}
}

func (b *BatchEnvelopeBuilder) WithID(id string) *BatchEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *BatchEnvelopeBuilder) WithSource(source string) *BatchEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *BatchEnvelopeBuilder) WithTimestamp(timestamp time.Time) *BatchEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *BatchEnvelopeBuilder) WithBatch(batch *message.Batch) *BatchEnvelopeBuilder {
	b.batch = batch
	b.envelope.Name = batch.Name()
	return b
}

func (b *BatchEnvelopeBuilder) WithMetadata(metadata Metadata) *BatchEnvelopeBuilder {
	b.envelope.Metadata = metadata
	return b
}

func (b *BatchEnvelopeBuilder) WithTraceID(traceID string) *BatchEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

// Build serializes the batch. Message metadata never reaches the wire.
func (b *BatchEnvelopeBuilder) Build() (*BatchEnvelope, error) {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now()
	}
	if b.batch != nil {
		data, err := b.batch.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.envelope.Messages = data
	}
	if err := ValidateBatchEnvelope(b.envelope); err != nil {
		return nil, err
	}
	return b.envelope, nil
}
