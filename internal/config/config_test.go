package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "halia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
connectors:
  - id: plc
    kind: memory
    role: source
  - id: out
    kind: memory
    role: sink
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 256, cfg.Engine.IOChannelCapacity)
	assert.True(t, cfg.Engine.RestoreOnStart)
	assert.Equal(t, "latest_count", cfg.Sink.Retention.Policy)
	assert.Equal(t, 500*time.Millisecond, cfg.Sink.Retry.InitialInterval)

	conn, ok := cfg.Connector("out")
	require.True(t, ok)
	assert.Equal(t, "sink", conn.Role)
	_, ok = cfg.Connector("missing")
	assert.False(t, ok)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")

	path := writeConfig(t, `
broker:
  kafka:
    brokers: ["localhost:9092"]
    group_id: halia
connectors:
  - id: telemetry
    kind: kafka
    role: source
    topic: telemetry
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
			Engine: EngineConfig{IOChannelCapacity: 8},
			Sink:   SinkConfig{Retention: RetentionConfig{Policy: "all"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Type = "sqlite" },
			wantErr: "storage.type",
		},
		{
			name:    "postgres storage without database",
			mutate:  func(c *Config) { c.Storage.Type = "postgres" },
			wantErr: "database.postgres.host",
		},
		{
			name:    "zero channel capacity",
			mutate:  func(c *Config) { c.Engine.IOChannelCapacity = 0 },
			wantErr: "engine.io_channel_capacity",
		},
		{
			name:    "latest_count without count",
			mutate:  func(c *Config) { c.Sink.Retention = RetentionConfig{Policy: "latest_count"} },
			wantErr: "sink.retention.count",
		},
		{
			name:    "unknown retention",
			mutate:  func(c *Config) { c.Sink.Retention.Policy = "oldest" },
			wantErr: "sink.retention.policy",
		},
		{
			name: "duplicate connector",
			mutate: func(c *Config) {
				c.Connectors = []ConnectorConfig{
					{ID: "a", Kind: "memory", Role: "source"},
					{ID: "a", Kind: "memory", Role: "sink"},
				}
			},
			wantErr: "duplicate connector id",
		},
		{
			name: "kafka connector without brokers",
			mutate: func(c *Config) {
				c.Connectors = []ConnectorConfig{{ID: "k", Kind: "kafka", Role: "source", Topic: "t"}}
			},
			wantErr: "broker.kafka.brokers",
		},
		{
			name: "redis sink bad mode",
			mutate: func(c *Config) {
				c.Database.Redis = RedisConfig{Host: "localhost", Port: 6379}
				c.Connectors = []ConnectorConfig{{ID: "r", Kind: "redis", Role: "sink", Topic: "out", Mode: "stream"}}
			},
			wantErr: "connectors[0].mode",
		},
		{
			name: "bad role",
			mutate: func(c *Config) {
				c.Connectors = []ConnectorConfig{{ID: "m", Kind: "memory", Role: "both"}}
			},
			wantErr: "connectors[0].role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DATABASE_POSTGRES_HOST", envName("database.postgres.host"))
	assert.Equal(t, "MANAGEMENT_RATE_LIMIT_ENABLED", envName("management.rate_limit.enabled"))
}
