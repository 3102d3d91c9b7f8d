// Package app wires configuration, infrastructure and application handlers
// together. Both binaries (cmd/cluster and cmd/server) start through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-tiers/config"
	"github.com/alem-hub/learner-tiers/internal/application/command"
	"github.com/alem-hub/learner-tiers/internal/application/query"
	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/messaging"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/learner-tiers/pkg/logger"
	"github.com/alem-hub/learner-tiers/pkg/retry"
)

// RunLockResource names the cross-process clustering lock.
const RunLockResource = "clustering:run"

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// LoggerOptions maps configuration to logger options.
func LoggerOptions(cfg *config.Config) logger.Options {
	return logger.Options{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		Production: cfg.IsProduction(),
		Debug:      cfg.App.Debug,
		Attrs: []slog.Attr{
			slog.String("service", cfg.App.Name),
			slog.String("version", cfg.App.Version),
		},
	}
}

// EngineConfig maps configuration to the clustering engine settings.
func EngineConfig(cfg *config.Config) segmentation.EngineConfig {
	return segmentation.EngineConfig{
		MaxClusters:   cfg.Clustering.MaxClusters,
		Restarts:      cfg.Clustering.Restarts,
		MaxIterations: cfg.Clustering.MaxIterations,
		Tolerance:     cfg.Clustering.Tolerance,
		Seed:          cfg.Clustering.Seed,
		Parallelism:   cfg.Clustering.Parallelism,
	}
}

// RunPolicy maps configuration to the should-run policy.
func RunPolicy(cfg *config.Config) segmentation.RunPolicy {
	return segmentation.RunPolicy{
		StaleAfter:  cfg.Scheduler.StaleAfter,
		MinNewGames: cfg.Scheduler.MinNewGames,
	}
}

// PostgresConfig maps configuration to the pool settings.
func PostgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}
}

// RedisConfig maps configuration to the Redis client settings.
func RedisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

// Infrastructure holds the process-wide connections.
type Infrastructure struct {
	Config *config.Config
	Logger *slog.Logger

	DB *postgres.Connection

	// Cache is nil when Redis is disabled or unreachable.
	Cache *redis.Cache

	Repository *postgres.SnapshotRepository
	Source     *postgres.StudentSource
}

// ConnectOptions controls Connect.
type ConnectOptions struct {
	// Migrate applies pending migrations after connecting.
	Migrate bool

	// SkipRedis leaves Cache nil even when Redis is configured.
	SkipRedis bool
}

// Connect establishes the database connection (required) and the Redis
// connection (optional). Both are retried with backoff.
func Connect(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ConnectOptions) (*Infrastructure, error) {
	if log == nil {
		log = slog.Default()
	}
	infra := &Infrastructure{Config: cfg, Logger: log}

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	db, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
		conn, err := postgres.NewConnection(ctx, PostgresConfig(cfg))
		if errors.Is(err, postgres.ErrInvalidConfig) {
			return nil, retry.Permanent(err)
		}
		return conn, err
	}, retry.ConnectOptions(log, "postgres", cfg.Database.ConnectAttempts)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	infra.DB = db
	log.Info("database connection established")

	if opts.Migrate {
		applied, err := postgres.NewMigrator(db).Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}

	infra.Repository = postgres.NewSnapshotRepository(db)
	infra.Source = postgres.NewStudentSource(db)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Disabled || opts.SkipRedis {
		log.Info("Redis disabled, report cache and run lock are off")
		return infra, nil
	}

	log.Info("connecting to Redis...")
	redisOpts := append(retry.ConnectOptions(log, "redis", 3), retry.WithRetryIf(func(err error) bool {
		return !errors.Is(err, redis.ErrCacheConfig)
	}))
	cache, err := retry.DoWithData(ctx, func(ctx context.Context) (*redis.Cache, error) {
		return redis.NewCache(ctx, RedisConfig(cfg))
	}, redisOpts...)
	if err != nil {
		log.Warn("failed to connect to Redis, caching disabled", "error", err)
		return infra, nil
	}
	infra.Cache = cache
	log.Info("Redis connection established")

	return infra, nil
}

// Close releases all connections.
func (i *Infrastructure) Close() {
	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			i.Logger.Warn("failed to close Redis", "error", err)
		}
	}
	if i.DB != nil {
		i.Logger.Info("closing database connection...")
		i.DB.Close()
	}
}

// ReportCache returns the Redis report cache, or nil when Redis is off.
func (i *Infrastructure) ReportCache() segmentation.ReportCache {
	if i.Cache == nil {
		return nil
	}
	return redis.NewReportCache(i.Cache, i.Config.Redis.ReportTTL)
}

// RunLock returns the Redis run lock, or nil when Redis is off.
func (i *Infrastructure) RunLock() segmentation.RunLock {
	if i.Cache == nil {
		return nil
	}
	return redis.NewRunLock(i.Cache, RunLockResource, i.Config.Redis.LockTTL)
}

// EventFanout returns a Redis Pub/Sub publisher for run events, or nil when
// Redis is off.
func (i *Infrastructure) EventFanout() *messaging.RedisFanout {
	if i.Cache == nil {
		return nil
	}
	fanout, err := messaging.NewRedisFanout(i.Cache.Client(), i.Config.Redis.EventsChannel)
	if err != nil {
		i.Logger.Warn("event fan-out disabled", "error", err)
		return nil
	}
	return fanout
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Handlers groups the application command and query handlers.
type Handlers struct {
	RunClustering *command.RunClusteringHandler
	Status        *query.GetClusteringStatusHandler
	Report        *query.GetLatestReportHandler
	Segments      *query.GetCurrentSegmentsHandler
}

// NewHandlers builds the handlers on top of infra. publisher may be nil.
func NewHandlers(infra *Infrastructure, publisher shared.EventPublisher) *Handlers {
	cfg := infra.Config
	policy := RunPolicy(cfg)
	cache := infra.ReportCache()

	return &Handlers{
		RunClustering: command.NewRunClusteringHandler(command.RunClusteringDeps{
			Source:    infra.Source,
			Repo:      infra.Repository,
			Cache:     cache,
			Lock:      infra.RunLock(),
			Publisher: publisher,
			Engine:    segmentation.NewEngine(EngineConfig(cfg)),
			Policy:    policy,
			Logger:    infra.Logger,
		}),
		Status:   query.NewGetClusteringStatusHandler(infra.Repository, policy, infra.Logger),
		Report:   query.NewGetLatestReportHandler(infra.Repository, cache, infra.Logger),
		Segments: query.NewGetCurrentSegmentsHandler(infra.Repository),
	}
}

// RunContext returns a context bounded by the configured run timeout.
func RunContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.Clustering.RunTimeout)
}

// ShutdownContext returns a fresh context bounded by the shutdown timeout.
func ShutdownContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
