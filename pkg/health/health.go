package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckTimeout bounds every single probe.
const CheckTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// Optional is a Checker whose failure degrades the service instead of making
// it unhealthy.
type Optional interface {
	Checker
	Optional() bool
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every probe concurrently. A failing required probe makes the
// service unhealthy; a failing optional one only degrades it.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(r.checkers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, checker := range r.checkers {
		checker := checker
		g.Go(func() error {
			result := probe(gctx, checker)
			mu.Lock()
			results[checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	return Health{Status: status, Timestamp: time.Now(), Checks: results}
}

func probe(ctx context.Context, checker Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	result := CheckResult{
		Status:    StatusHealthy,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp: time.Now(),
	}
	if err == nil {
		return result
	}

	result.Message = err.Error()
	result.Status = StatusUnhealthy
	if o, ok := checker.(Optional); ok && o.Optional() {
		result.Status = StatusDegraded
	}
	return result
}

// FuncChecker adapts a probe function. An optional one only degrades.
type FuncChecker struct {
	name     string
	optional bool
	fn       func(ctx context.Context) error
}

func NewFuncChecker(name string, optional bool, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, optional: optional, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Optional() bool { return c.optional }

func (c *FuncChecker) Check(ctx context.Context) error { return c.fn(ctx) }

func NewPostgreSQLChecker(db *sql.DB) *FuncChecker {
	return NewFuncChecker("postgresql", false, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	})
}

func NewMongoDBChecker(client *mongo.Client) *FuncChecker {
	return NewFuncChecker("mongodb", false, func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	})
}

// NewRedisChecker is optional: only connectors use Redis, and a lost Redis
// leaves rules on other connectors running.
func NewRedisChecker(client *redis.Client) *FuncChecker {
	return NewFuncChecker("redis", true, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}
