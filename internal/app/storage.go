package app

import (
	"context"
	"fmt"

	"line-flex-bridge/internal/channeltoken"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/common/retry"
	"line-flex-bridge/internal/config"
	"line-flex-bridge/internal/redis"
	"line-flex-bridge/internal/storage/memory"
	"line-flex-bridge/internal/storage/postgres"
	"line-flex-bridge/internal/storage/sqlite"
)

var (
	_ channeltoken.Purger = (*sqlite.Adapter)(nil)
	_ channeltoken.Purger = (*postgres.Adapter)(nil)
	_ channeltoken.Purger = (*memory.Adapter)(nil)
)

// initializeStore opens the token cache backend, retrying while the backing
// service is still starting
func (app *App) initializeStore(ctx context.Context) error {
	switch app.Config.TokenCacheBackend {
	case config.BackendSQLite:
		app.Logger.Info("Token cache: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
		store, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: app.Config.DatabasePath})
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite token cache: %w", err)
		}
		app.Store = store

	case config.BackendMemory:
		app.Logger.Warn("Token cache: in-memory, tokens are not shared between replicas")
		app.Store = memory.NewAdapter(0)

	case config.BackendPostgres:
		app.Logger.Info("Token cache: PostgreSQL")
		var store *postgres.Adapter
		err := retry.Do(ctx, retry.Startup(), func(ctx context.Context) error {
			var err error
			store, err = postgres.NewAdapter(ctx, &postgres.Config{DSN: app.Config.PostgresDSN})
			if err != nil {
				app.Logger.Warn("PostgreSQL not ready", logging.Field{Key: "error", Value: err.Error()})
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to initialize postgres token cache: %w", err)
		}
		app.Store = store

	default:
		err := retry.Do(ctx, retry.Startup(), func(ctx context.Context) error {
			err := app.initializeRedis()
			if err != nil {
				app.Logger.Warn("Redis not ready", logging.Field{Key: "error", Value: err.Error()})
			}
			return err
		})
		if err != nil {
			return err
		}
		app.Store = redis.NewDocumentStore(app.RedisClient, "")
	}
	return nil
}
