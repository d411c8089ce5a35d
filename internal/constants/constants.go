package constants

import "time"

const (
	ServiceName = "halia"
	Version     = "1.0.0"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	DefaultMongoDBName    = "halia"
	MongoRulesCollection  = "rules"
	PostgresRulesTable    = "rules"
	DefaultRuleSearchSize = 20
	MaxRuleSearchSize     = 200
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultIOChannelCapacity = 256
	DefaultStopTimeout       = 5 * time.Second
	DefaultLogBufferSize     = 500
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongoDB  = "mongodb"
)

const (
	ConnectorMemory = "memory"
	ConnectorKafka  = "kafka"
	ConnectorRedis  = "redis"

	RoleSource = "source"
	RoleSink   = "sink"

	RedisModePublish = "publish"
	RedisModeList    = "list"
)

const (
	RetentionAll         = "all"
	RetentionNone        = "none"
	RetentionLatestCount = "latest_count"
	RetentionLatestTime  = "latest_time"

	DefaultRetentionCount = 100

	DefaultMemorySinkKeep = 100
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	HeaderMessageID = "message_id"
	HeaderBatchName = "batch_name"
)
