package broker

import (
	"fmt"

	"halia/internal/config"
	"halia/internal/logger"
)

func NewProducer(cfg config.KafkaConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer needs at least one broker")
	}
	return NewKafkaProducer(cfg, log), nil
}

// NewConsumer reads topic with the given consumer group, falling back to the
// broker-wide group id.
func NewConsumer(cfg config.KafkaConfig, topic, groupID, connector string, log logger.Logger) (Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer needs at least one broker")
	}
	if groupID != "" {
		cfg.GroupID = groupID
	}
	return NewKafkaConsumer(cfg, topic, connector, log), nil
}
