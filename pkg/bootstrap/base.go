package bootstrap

import (
	"context"
	"fmt"

	"halia/internal/broker"
	"halia/internal/config"
	"halia/internal/constants"
	"halia/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// NeedsBroker reports whether any configured component talks to Kafka.
func (b *Base) NeedsBroker() bool {
	if b.Config.Broker.Kafka.EventsTopic != "" {
		return true
	}
	for _, c := range b.Config.Connectors {
		if c.Kind == constants.ConnectorKafka {
			return true
		}
	}
	return false
}

// InitBroker creates the shared Kafka producer used by kafka sinks and the
// rule event notifier. Kafka sources open their own consumers.
func (b *Base) InitBroker() error {
	if !b.NeedsBroker() {
		return nil
	}
	producer, err := broker.NewProducer(b.Config.Broker.Kafka, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer
	b.Logger.Infow("Kafka producer initialized", "brokers", b.Config.Broker.Kafka.Brokers)
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
