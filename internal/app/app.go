// Package app wires configuration, the token cache and the bridge into a
// runnable service.
package app

import (
	"context"

	"line-flex-bridge/internal/bridge"
	"line-flex-bridge/internal/channeltoken"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/config"
	"line-flex-bridge/internal/crypto"
	"line-flex-bridge/internal/redis"
	"line-flex-bridge/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	RedisClient *redis.Client
	Store       storage.DocumentStore
	Encryptor   *crypto.TokenEncryptor
	Tokens      *channeltoken.CredentialService
	Credentials channeltoken.ChannelCredentials
	Scheduler   *channeltoken.Scheduler
	Bridge      *bridge.Bridge
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	if err := app.initializeStore(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeTokens(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeScheduler(); err != nil {
		app.Cleanup()
		return nil, err
	}
	app.initializeBridge()

	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing token store", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
