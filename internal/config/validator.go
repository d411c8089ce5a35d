package config

import (
	"fmt"
	"strings"

	"halia/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateStorage(cfg.Storage, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateEngine(cfg.Engine); err != nil {
		errors = append(errors, err)
	}

	if err := validateSink(cfg.Sink); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, validateConnectors(cfg)...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateStorage(cfg StorageConfig, db DatabaseConfig) error {
	switch strings.ToLower(cfg.Type) {
	case "", constants.StorageMemory:
		return nil
	case constants.StoragePostgres:
		if db.Postgres.Host == "" {
			return &ValidationError{
				Field:   "database.postgres.host",
				Message: "postgres storage needs database.postgres settings",
			}
		}
	case constants.StorageMongoDB:
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "mongodb storage needs database.mongodb settings",
			}
		}
	default:
		return &ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("unknown storage type: %s (supported: memory, postgres, mongodb)", cfg.Type),
		}
	}
	return nil
}

func validateEngine(cfg EngineConfig) error {
	if cfg.IOChannelCapacity < 1 {
		return &ValidationError{
			Field:   "engine.io_channel_capacity",
			Message: "channel capacity must be positive",
		}
	}

	if cfg.StopTimeout < 0 {
		return &ValidationError{
			Field:   "engine.stop_timeout",
			Message: "stop timeout must be non-negative",
		}
	}

	if cfg.LogBufferSize < 0 {
		return &ValidationError{
			Field:   "engine.log_buffer_size",
			Message: "log buffer size must be non-negative",
		}
	}

	return nil
}

func validateSink(cfg SinkConfig) error {
	if err := validateRetry("sink.retry", cfg.Retry); err != nil {
		return err
	}

	switch cfg.Retention.Policy {
	case "", constants.RetentionAll, constants.RetentionNone:
	case constants.RetentionLatestCount:
		if cfg.Retention.Count < 1 {
			return &ValidationError{
				Field:   "sink.retention.count",
				Message: "latest_count retention needs a positive count",
			}
		}
	case constants.RetentionLatestTime:
		if cfg.Retention.Duration <= 0 {
			return &ValidationError{
				Field:   "sink.retention.duration",
				Message: "latest_time retention needs a positive duration",
			}
		}
	default:
		return &ValidationError{
			Field:   "sink.retention.policy",
			Message: fmt.Sprintf("unknown retention policy: %s (valid: all, none, latest_count, latest_time)", cfg.Retention.Policy),
		}
	}

	return nil
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateConnectors(cfg *Config) []error {
	var errors []error
	seen := make(map[string]bool, len(cfg.Connectors))
	needsKafka := false

	for i, conn := range cfg.Connectors {
		field := fmt.Sprintf("connectors[%d]", i)
		if conn.ID == "" {
			errors = append(errors, &ValidationError{Field: field + ".id", Message: "connector id is required"})
			continue
		}
		if seen[conn.ID] {
			errors = append(errors, &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate connector id: %s", conn.ID)})
		}
		seen[conn.ID] = true

		if conn.Role != constants.RoleSource && conn.Role != constants.RoleSink {
			errors = append(errors, &ValidationError{
				Field:   field + ".role",
				Message: fmt.Sprintf("invalid role: %s (valid: source, sink)", conn.Role),
			})
		}

		switch conn.Kind {
		case constants.ConnectorMemory:
		case constants.ConnectorKafka:
			needsKafka = true
			if conn.Topic == "" {
				errors = append(errors, &ValidationError{Field: field + ".topic", Message: "kafka connector needs a topic"})
			}
		case constants.ConnectorRedis:
			if conn.Topic == "" {
				errors = append(errors, &ValidationError{Field: field + ".topic", Message: "redis connector needs a channel or list key"})
			}
			if cfg.Database.Redis.Host == "" {
				errors = append(errors, &ValidationError{Field: "database.redis.host", Message: "redis connector needs database.redis settings"})
			}
			if conn.Role == constants.RoleSink && conn.Mode != "" &&
				conn.Mode != constants.RedisModePublish && conn.Mode != constants.RedisModeList {
				errors = append(errors, &ValidationError{
					Field:   field + ".mode",
					Message: fmt.Sprintf("invalid redis mode: %s (valid: publish, list)", conn.Mode),
				})
			}
		default:
			errors = append(errors, &ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown connector kind: %s (supported: memory, kafka, redis)", conn.Kind),
			})
		}
	}

	if cfg.Broker.Kafka.EventsTopic != "" {
		needsKafka = true
	}

	if needsKafka {
		if err := validateKafka(cfg.Broker.Kafka); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}
