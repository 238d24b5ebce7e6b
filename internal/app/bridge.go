package app

import (
	"line-flex-bridge/internal/bridge"
	"line-flex-bridge/internal/conversations"
	"line-flex-bridge/internal/line"
)

func (app *App) initializeBridge() {
	cfg := app.Config

	messenger := line.NewClient(app.Tokens.Source(app.Credentials),
		line.WithBaseURL(cfg.LineAPIBaseURL),
		line.WithLogger(app.Logger),
	)
	convs := conversations.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.FlexConversationServiceSID,
		conversations.WithBaseURL(cfg.TwilioConversationsBaseURL),
		conversations.WithLogger(app.Logger),
	)

	app.Bridge = bridge.New(bridge.Config{
		StudioFlowSID:      cfg.FlexStudioFlowSID,
		OutboundWebhookURL: cfg.OutboundWebhookURL(),
	}, messenger, convs, app.Logger)
}
