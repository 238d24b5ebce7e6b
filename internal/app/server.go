package app

import (
	"context"
	"net/http"

	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/handlers"
	"line-flex-bridge/internal/middleware"
	"line-flex-bridge/internal/server"
	"line-flex-bridge/internal/signature"
)

// Handler builds the HTTP routes
func (app *App) Handler() http.Handler {
	cfg := app.Config

	var lineVerifier, twilioVerifier signature.Verifier
	if cfg.VerifyWebhookSignatures {
		lineVerifier = signature.NewLineVerifier(cfg.LineChannelSecret, app.Logger)
		twilioVerifier = signature.NewTwilioVerifier(cfg.TwilioAuthToken, cfg.PublicBaseURL, app.Logger)
	} else {
		app.Logger.Warn("Webhook signature verification is disabled")
	}

	var opts []handlers.Option
	if cfg.WebhookRateLimit > 0 {
		opts = append(opts, handlers.WithRateLimiter(middleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst)))
	}

	return handlers.New(app.Bridge, app.Store, lineVerifier, twilioVerifier, app.Logger, opts...).Router()
}

// RunServer starts the background jobs and the HTTP server
func (app *App) RunServer(ctx context.Context) (*server.Server, error) {
	if app.Scheduler.Jobs() > 0 {
		// warm the cache before the first webhook arrives
		if app.Config.TokenPrewarmSchedule != "" {
			if err := app.Scheduler.Prewarm(ctx, app.Tokens.Source(app.Credentials)); err != nil {
				app.Logger.Warn("Initial token prewarm failed", logging.Field{Key: "error", Value: err.Error()})
			}
		}
		app.Scheduler.Start()
		app.Logger.Info("Token scheduler started", logging.Field{Key: "jobs", Value: app.Scheduler.Jobs()})
	}

	srv := server.New(app.Handler(), app.Config.Port, app.Logger)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// Shutdown stops the background jobs
func (app *App) Shutdown(ctx context.Context) error {
	if app.Scheduler != nil {
		app.Scheduler.Stop(ctx)
		app.Logger.Info("Token scheduler stopped")
	}
	return ctx.Err()
}
