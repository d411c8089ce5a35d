package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"halia/internal/broker"
	"halia/internal/constants"
	"halia/pkg/logging"
	"halia/pkg/models"
)

// Notifier announces rule lifecycle changes.
type Notifier interface {
	Notify(ctx context.Context, eventType, action string, rule *Rule) error
}

// EventProducer publishes RuleEvents to a Kafka topic keyed by rule id.
type EventProducer struct {
	producer broker.Producer
	topic    string
}

func NewEventProducer(producer broker.Producer, topic string) *EventProducer {
	return &EventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *EventProducer) Notify(ctx context.Context, eventType, action string, rule *Rule) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	event := models.RuleEvent{
		EventType: eventType,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"on": rule.On},
	}
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		event.Metadata["trace_id"] = traceID
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal rule event: %w", err)
	}

	return p.producer.Publish(ctx, p.topic, rule.ID, payload,
		kafka.Header{Key: constants.HeaderMessageID, Value: []byte(uuid.New().String())},
		kafka.Header{Key: "event_type", Value: []byte(eventType)},
	)
}
