package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Sink           SinkConfig           `mapstructure:"sink"`
	Connectors     []ConnectorConfig    `mapstructure:"connectors"`
	Management     ManagementConfig     `mapstructure:"management"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// StorageConfig selects where rule definitions are persisted.
type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory", "postgres" or "mongodb"
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	// EventsTopic receives rule lifecycle events. Empty disables them.
	EventsTopic string `mapstructure:"events_topic"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	// IOChannelCapacity bounds the channels between collaborators and rules.
	IOChannelCapacity int           `mapstructure:"io_channel_capacity"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	LogBufferSize     int           `mapstructure:"log_buffer_size"`
	RestoreOnStart    bool          `mapstructure:"restore_on_start"`
}

type SinkConfig struct {
	Retry     RetryConfig     `mapstructure:"retry"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig decides which batches a sink keeps while its target is
// unreachable.
type RetentionConfig struct {
	Policy   string        `mapstructure:"policy"` // "all", "none", "latest_count", "latest_time"
	Count    int           `mapstructure:"count"`
	Duration time.Duration `mapstructure:"duration"`
}

// ConnectorConfig declares one source or sink that rule nodes reference by ID.
type ConnectorConfig struct {
	ID    string `mapstructure:"id"`
	Kind  string `mapstructure:"kind"` // "memory", "kafka" or "redis"
	Role  string `mapstructure:"role"` // "source" or "sink"
	Topic string `mapstructure:"topic"`
	// GroupID overrides broker.kafka.group_id for a kafka source.
	GroupID string `mapstructure:"group_id"`
	// Mode is "publish" or "list" for a redis sink.
	Mode string `mapstructure:"mode"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

// Connector returns the declared connector with the given ID.
func (c *Config) Connector(id string) (ConnectorConfig, bool) {
	for _, conn := range c.Connectors {
		if conn.ID == id {
			return conn, true
		}
	}
	return ConnectorConfig{}, false
}
