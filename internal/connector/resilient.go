package connector

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"halia/internal/config"
	"halia/internal/logger"
	"halia/pkg/circuitbreaker"
	"halia/pkg/message"
	"halia/pkg/metrics"
	"halia/pkg/retry"
)

// ResilientWriter retries failed writes with exponential backoff behind a
// circuit breaker. An open breaker fails writes immediately.
type ResilientWriter struct {
	id     string
	writer Writer
	policy retry.Policy
	cb     *circuitbreaker.Breaker
	logger logger.Logger
}

func NewResilientWriter(id string, writer Writer, retryCfg config.RetryConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *ResilientWriter {
	policy := retry.PolicyFromConfig(retryCfg)

	w := &ResilientWriter{id: id, writer: writer, policy: policy, logger: log}
	if !cbCfg.Enabled {
		return w
	}

	w.cb = circuitbreaker.New("sink-"+id, cbCfg, func(from, to gobreaker.State) {
		log.Warnw("Sink circuit breaker changed state", "sink_id", id, "from", from.String(), "to", to.String())
	})
	return w
}

func (w *ResilientWriter) Write(ctx context.Context, b *message.Batch) error {
	if w.cb == nil {
		return w.writeWithRetry(ctx, b)
	}
	return w.cb.Do(ctx, func() error {
		return w.writeWithRetry(ctx, b)
	})
}

func (w *ResilientWriter) writeWithRetry(ctx context.Context, b *message.Batch) error {
	return retry.RetryWithCallback(ctx, w.policy, func() error {
		return w.writer.Write(ctx, b)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("sink", w.id).Inc()
		w.logger.Warnw("Retrying sink write",
			"sink_id", w.id,
			"attempt", attempt,
			"max_attempts", w.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

// State reports the breaker state, or "disabled".
func (w *ResilientWriter) State() string {
	if w.cb == nil {
		return "disabled"
	}
	return w.cb.State().String()
}

func (w *ResilientWriter) Close() error {
	return w.writer.Close()
}
