package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"halia/internal/config"
	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
)

const (
	connectTimeout    = 10 * time.Second
	postgresMaxOpen   = 10
	postgresMaxIdle   = 5
	postgresConnTTL   = 30 * time.Minute
	redisPoolFailWait = 5 * time.Second
)

// Stores holds the external clients the engine opened. A nil field means
// nothing in the configuration needed that store.
type Stores struct {
	Postgres *sql.DB
	Mongo    *mongo.Client
	Redis    *redis.Client

	cfg    config.DatabaseConfig
	logger logger.Logger
}

func NewStores(cfg config.DatabaseConfig, log logger.Logger) *Stores {
	return &Stores{cfg: cfg, logger: log}
}

// PostgresDSN renders a lib/pq URL, escaping credentials.
func PostgresDSN(c config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.DBName,
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	return u.String()
}

func (s *Stores) OpenPostgres(ctx context.Context) (*sql.DB, error) {
	if s.Postgres != nil {
		return s.Postgres, nil
	}
	if s.cfg.Postgres.Host == "" {
		return nil, errors.ErrConfig.WithMessage("database.postgres.host is not set")
	}

	db, err := sql.Open("postgres", PostgresDSN(s.cfg.Postgres))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxOpen)
	db.SetMaxIdleConns(postgresMaxIdle)
	db.SetConnMaxLifetime(postgresConnTTL)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.ErrExternalIO.WithCause(fmt.Errorf("failed to ping postgres: %w", err))
	}

	s.logger.InfowCtx(ctx, "PostgreSQL connected", "host", s.cfg.Postgres.Host, "dbname", s.cfg.Postgres.DBName)
	s.Postgres = db
	return db, nil
}

// OpenMongo connects and returns the configured database.
func (s *Stores) OpenMongo(ctx context.Context) (*mongo.Database, error) {
	name := s.cfg.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	if s.Mongo != nil {
		return s.Mongo.Database(name), nil
	}
	if s.cfg.MongoDB.URI == "" {
		return nil, errors.ErrConfig.WithMessage("database.mongodb.uri is not set")
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connCtx, options.Client().
		ApplyURI(s.cfg.MongoDB.URI).
		SetAppName(constants.ServiceName).
		SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, errors.ErrExternalIO.WithCause(fmt.Errorf("failed to connect to mongodb: %w", err))
	}
	if err := client.Ping(connCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.ErrExternalIO.WithCause(fmt.Errorf("failed to ping mongodb: %w", err))
	}

	s.logger.InfowCtx(ctx, "MongoDB connected", "database", name)
	s.Mongo = client
	return client.Database(name), nil
}

func (s *Stores) OpenRedis(ctx context.Context) (*redis.Client, error) {
	if s.Redis != nil {
		return s.Redis, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(s.cfg.Redis.Host, strconv.Itoa(s.cfg.Redis.Port)),
		Password:    s.cfg.Redis.Password,
		DB:          s.cfg.Redis.DB,
		ClientName:  constants.ServiceName,
		DialTimeout: connectTimeout,
		PoolTimeout: redisPoolFailWait,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, errors.ErrExternalIO.WithCause(fmt.Errorf("failed to ping redis: %w", err))
	}

	s.logger.InfowCtx(ctx, "Redis connected", "addr", rdb.Options().Addr)
	s.Redis = rdb
	return rdb, nil
}

// Close releases every opened client. Connectors using Redis must be
// closed first.
func (s *Stores) Close(ctx context.Context) []error {
	var errs []error
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}
	return errs
}
