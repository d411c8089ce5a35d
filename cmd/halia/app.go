package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"halia/internal/config"
	"halia/internal/connector"
	"halia/internal/constants"
	"halia/internal/logger"
	"halia/internal/rule"
	"halia/pkg/bootstrap"
	"halia/pkg/health"
	"halia/pkg/metrics"
	"halia/pkg/middleware"
	"halia/pkg/migrations"
	"halia/pkg/ratelimit"
	"halia/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	base           *bootstrap.Base
	stores         *bootstrap.Stores
	hub            *connector.Hub
	manager        *rule.Manager
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		base:        bootstrap.NewBase(cfg, log),
		stores:      bootstrap.NewStores(cfg.Database, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterConnectorMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterManagementMetrics()

	repo, err := a.initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.base.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initConnectors(ctx); err != nil {
		return fmt.Errorf("failed to initialize connectors: %w", err)
	}

	opts := []rule.Option{rule.WithLogger(a.logger)}
	if a.base.Producer != nil && a.config.Broker.Kafka.EventsTopic != "" {
		opts = append(opts, rule.WithNotifier(rule.NewEventProducer(a.base.Producer, a.config.Broker.Kafka.EventsTopic)))
		a.logger.InfowCtx(ctx, "Rule events enabled", "topic", a.config.Broker.Kafka.EventsTopic)
	}
	a.manager = rule.NewManager(repo, a.hub, a.config.Engine, opts...)

	a.initRouter(ctx)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) (rule.Repository, error) {
	switch a.config.Storage.Type {
	case constants.StoragePostgres:
		db, err := a.stores.OpenPostgres(ctx)
		if err != nil {
			return nil, err
		}
		if a.config.Database.RunMigrations {
			if err := migrations.MigratePostgres(db); err != nil {
				return nil, err
			}
			a.logger.InfowCtx(ctx, "PostgreSQL migrations applied")
		}
		return rule.NewPostgresRepository(db), nil

	case constants.StorageMongoDB:
		db, err := a.stores.OpenMongo(ctx)
		if err != nil {
			return nil, err
		}
		if err := migrations.EnsureMongoIndexes(ctx, db, constants.MongoRulesCollection); err != nil {
			return nil, err
		}
		return rule.NewMongoRepository(db), nil

	default:
		a.logger.WarnwCtx(ctx, "Rules are kept in memory and are lost on restart")
		return rule.NewMemoryRepository(), nil
	}
}

func (a *App) initConnectors(ctx context.Context) error {
	var rdb *redis.Client
	for _, c := range a.config.Connectors {
		if c.Kind != constants.ConnectorRedis {
			continue
		}
		client, err := a.stores.OpenRedis(ctx)
		if err != nil {
			return err
		}
		rdb = client
		break
	}

	hub, err := connector.NewHub(a.config, connector.Deps{
		Producer: a.base.Producer,
		Redis:    rdb,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.hub = hub
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(tracing.ServiceName(a.config.Tracing), "/health", "/metrics"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.Management.RateLimit.Enabled {
		store := ratelimit.NewStore(ratelimit.FromConfig(a.config.Management.RateLimit), nil)
		go store.Run(ctx)
		router.Use(ratelimit.Middleware(store, "/health", "/metrics"))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", a.config.Management.RateLimit.RPS, "burst", a.config.Management.RateLimit.Burst)
	}

	rule.NewHandler(a.manager, a.hub, a.logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	if a.stores.Postgres != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.stores.Postgres))
	}
	if a.stores.Mongo != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.stores.Mongo))
	}
	if a.stores.Redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.stores.Redis))
	}
	healthRegistry.Register(health.NewFuncChecker("rules", true, func(context.Context) error {
		if n := a.manager.Failed(); n > 0 {
			return fmt.Errorf("%d rules failed", n)
		}
		return nil
	}))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	if a.config.Engine.RestoreOnStart {
		if _, err := a.manager.Restore(ctx); err != nil {
			a.logger.ErrorwCtx(ctx, "Failed to restore rules", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(ctx)
	})
	return g.Wait()
}

// Shutdown stops accepting requests, stops the rules, then closes the
// connectors and the stores they depend on.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	err := a.base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error
		if a.manager != nil {
			if err := a.manager.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("rule shutdown error: %w", err))
			}
		}
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("connector close error: %w", err))
			}
		}
		return errs
	})
	if err != nil {
		errs = append(errs, err)
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.stores.Close(shutdownCtx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
