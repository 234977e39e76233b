package bootstrap

import (
	"context"
	"fmt"

	"github.com/ej0e1/tbot/internal/config"
	"github.com/ej0e1/tbot/internal/storage"
	"github.com/ej0e1/tbot/internal/storage/migrations"
	"github.com/ej0e1/tbot/internal/storage/postgres"
	"github.com/ej0e1/tbot/internal/storage/redis"
	"github.com/ej0e1/tbot/internal/storage/sqlite"

	"go.uber.org/zap"
)

// OpenStore opens the store selected by store.driver.
// Postgres migrations run first when postgres.migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	logger = logger.With(zap.String("driver", cfg.Store.Driver))
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		url := cfg.Postgres.ConnString()
		if cfg.Postgres.Migrate {
			// run DB migrations before db pool is used
			if err := migrations.Up(url); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		pg, err := postgres.New(ctx, postgres.Config{
			URL:          url,
			Strategy:     postgres.Strategy(cfg.Store.Strategy),
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres store ready", zap.String("strategy", string(pg.Strategy())))
		return pg, nil
	case config.DriverSQLite:
		return sqlite.New(ctx, cfg.SQLite.Path, logger)
	case config.DriverRedis:
		return redis.New(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
