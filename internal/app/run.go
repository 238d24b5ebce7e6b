package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/config"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	logging.Info("Starting LINE Flex bridge",
		logging.Field{Key: "port", Value: cfg.Port},
		logging.Field{Key: "cache_backend", Value: cfg.TokenCacheBackend},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	app, err := New(initCtx, cfg)
	cancel()
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer(ctx)
	if err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	select {
	case <-ctx.Done():
		logging.Info("Shutting down server...")
	case err := <-srv.Errors():
		if err != nil {
			logging.Error("Server stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err.Error()})
	}

	logging.Info("Server exited")
	return nil
}
