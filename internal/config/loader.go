package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"halia/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("storage.type", constants.StorageMemory)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("engine.io_channel_capacity", constants.DefaultIOChannelCapacity)
	viper.SetDefault("engine.stop_timeout", constants.DefaultStopTimeout)
	viper.SetDefault("engine.log_buffer_size", constants.DefaultLogBufferSize)
	viper.SetDefault("engine.restore_on_start", true)

	viper.SetDefault("sink.retry.max_attempts", 3)
	viper.SetDefault("sink.retry.initial_interval", "500ms")
	viper.SetDefault("sink.retry.max_interval", "10s")
	viper.SetDefault("sink.retry.multiplier", 2.0)
	viper.SetDefault("sink.retention.policy", constants.RetentionLatestCount)
	viper.SetDefault("sink.retention.count", constants.DefaultRetentionCount)

	viper.SetDefault("tracing.service_name", constants.ServiceName)
}

// envKeys can be overridden from the environment. The variable name is the
// key upper-cased with dots replaced by underscores.
var envKeys = []string{
	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.events_topic",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",
	"database.run_migrations",
	"storage.type",
	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",
	"logging.level",
	"logging.format",
	"engine.io_channel_capacity",
	"engine.restore_on_start",
	"engine.stop_timeout",
	"management.rate_limit.enabled",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
	"tracing.enabled",
	"tracing.service_name",
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func bindEnvVariables() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key, envName(key))
	}
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}
