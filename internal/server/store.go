package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/hypest/internal/config"
	"github.com/sakif/hypest/internal/middleware"
	"github.com/sakif/hypest/internal/repository"
	"github.com/sakif/hypest/internal/repository/postgres"
	sqliteRepo "github.com/sakif/hypest/internal/repository/sqlite"
)

// OpenStore opens the backend selected by cfg.DBDriver.
//
//	sqlite   → file at DB_PATH (directory created if missing), schema
//	           applied in-process
//	postgres → embedded migrations applied, then a pgx pool with a
//	           retried startup ping
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		if cfg.DBPath != ":memory:" {
			// 0755 = owner can read/write/execute, others can read/execute.
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("server: creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("server: opening sqlite: %w", err)
		}
		logger.Info("store opened", slog.String("driver", cfg.DBDriver), slog.String("path", cfg.DBPath))
		return db, nil

	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.DatabaseURL, postgres.Up); err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL, postgres.DefaultConnectOptions, logger)
		if err != nil {
			return nil, fmt.Errorf("server: opening postgres: %w", err)
		}
		logger.Info("store opened", slog.String("driver", cfg.DBDriver))
		return db, nil

	default:
		return nil, fmt.Errorf("server: unknown store driver %q", cfg.DBDriver)
	}
}

// OpenLimiter connects to Redis when rate limiting is configured.
//
// Returns (nil, nil) when REDIS_ADDR is empty. An unreachable Redis is not
// fatal: the limiter fails open per request, so we only warn here.
func OpenLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*redis.Client, middleware.Limiter) {
	if !cfg.RateLimitEnabled() {
		logger.Info("rate limiting disabled (REDIS_ADDR not set)")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, rate limiter will fail open",
			slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
	} else {
		logger.Info("rate limiting enabled", slog.String("addr", cfg.Redis.Addr),
			slog.Int("capacity", cfg.RateLimit.Capacity))
	}
	return rdb, middleware.NewRedisLimiter(rdb, cfg.RateLimit)
}
