package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"halia/internal/config"
	"halia/pkg/errors"
	"halia/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultInterval     = 60 * time.Second
	defaultTimeout      = 60 * time.Second
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

// Breaker guards calls to one external target. Every state change is
// exported as the circuit_breaker_state gauge (0 closed, 1 half-open,
// 2 open).
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a breaker from the circuit_breaker config section. Unset
// fields fall back to three half-open probes, a one minute window and
// tripping at half of at least three requests failing.
func New(name string, cfg config.CircuitBreakerConfig, onChange func(from, to gobreaker.State)) *Breaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = defaultMinRequests
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(cfg.MaxRequests, defaultMaxRequests),
		Interval:    durationOr(cfg.Interval, defaultInterval),
		Timeout:     durationOr(cfg.Timeout, defaultTimeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setState(name, to)
			if onChange != nil {
				onChange(from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	setState(name, cb.State())
	return &Breaker{cb: cb}
}

// Do runs fn unless the breaker rejects it. A rejection is reported as an
// external IO error naming the breaker.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	state := b.cb.State().String()
	metrics.CircuitBreakerRequests.WithLabelValues(b.cb.Name(), state).Inc()
	if err == nil {
		return nil
	}
	metrics.CircuitBreakerFailures.WithLabelValues(b.cb.Name()).Inc()

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.ErrExternalIO.
			WithCause(fmt.Errorf("circuit breaker %s: %w", b.cb.Name(), err)).
			WithDetail("breaker", b.cb.Name())
	}
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func setState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
