package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StageMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halia_stage_messages_total",
			Help: "Messages entering and leaving rule stages (count)",
		},
		[]string{"rule_id", "node_type", "direction"},
	)

	StageBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halia_stage_batches_total",
			Help: "Batches handled by rule stages, by outcome (count)",
		},
		[]string{"rule_id", "node_type", "status"},
	)

	StageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "halia_stage_processing_duration_ms",
			Help:    "Time a stage spends on one batch in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"node_type"},
	)

	StagePanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halia_stage_panics_total",
			Help: "Recovered stage panics (count)",
		},
		[]string{"rule_id", "node_type"},
	)

	RulesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "halia_rules_running",
			Help: "Number of running rules (count)",
		},
	)

	RuleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halia_rule_transitions_total",
			Help: "Rule lifecycle operations by outcome (count)",
		},
		[]string{"operation", "status"},
	)

	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halia_sink_writes_total",
			Help: "Batches written by sinks, by outcome (count)",
		},
		[]string{"sink_id", "status"},
	)

	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "halia_sink_write_duration_ms",
			Help:    "Duration of sink writes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"sink_id"},
	)

	SinkRetainedBatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "halia_sink_retained_batches",
			Help: "Batches held by a sink while its target is unavailable (count)",
		},
		[]string{"sink_id"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "target"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"connector", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"connector", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"connector", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"connector", "topic", "partition"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(StageMessagesTotal)
	prometheus.MustRegister(StageBatchesTotal)
	prometheus.MustRegister(StageProcessingDuration)
	prometheus.MustRegister(StagePanicsTotal)
	prometheus.MustRegister(RulesRunning)
	prometheus.MustRegister(RuleTransitionsTotal)
}

func RegisterConnectorMetrics() {
	prometheus.MustRegister(SinkWritesTotal)
	prometheus.MustRegister(SinkWriteDuration)
	prometheus.MustRegister(SinkRetainedBatches)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func AddStageMessages(ruleID, nodeType, direction string, n int) {
	if n > 0 {
		StageMessagesTotal.WithLabelValues(ruleID, nodeType, direction).Add(float64(n))
	}
}

func IncStageBatch(ruleID, nodeType, status string) {
	StageBatchesTotal.WithLabelValues(ruleID, nodeType, status).Inc()
}

func ObserveStageDuration(nodeType string, duration time.Duration) {
	StageProcessingDuration.WithLabelValues(nodeType).Observe(float64(duration.Microseconds()) / 1000)
}

func IncStagePanic(ruleID, nodeType string) {
	StagePanicsTotal.WithLabelValues(ruleID, nodeType).Inc()
}

func IncRuleTransition(operation, status string) {
	RuleTransitionsTotal.WithLabelValues(operation, status).Inc()
}

func IncSinkWrite(sinkID, status string) {
	SinkWritesTotal.WithLabelValues(sinkID, status).Inc()
}

func ObserveSinkWriteDuration(sinkID string, duration time.Duration) {
	SinkWriteDuration.WithLabelValues(sinkID).Observe(float64(duration.Milliseconds()))
}

func SetSinkRetained(sinkID string, n int) {
	SinkRetainedBatches.WithLabelValues(sinkID).Set(float64(n))
}

func IncKafkaMessagesRead(connector, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(connector, topic).Inc()
}

func IncKafkaMessagesWritten(connector, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(connector, topic).Inc()
}

func ObserveKafkaMessageSize(connector, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(connector, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(connector, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(connector, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveDatabaseQuery(database, operation, status string, duration time.Duration) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
