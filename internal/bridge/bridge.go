// Package bridge relays LINE user messages into Flex conversations and agent
// replies back to LINE.
package bridge

import (
	"context"
	"fmt"
	"net/http"

	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/common/validation"
	"line-flex-bridge/internal/conversations"
	"line-flex-bridge/internal/line"
)

const (
	identityPrefix      = "line:"
	defaultFriendlyName = "LINE Conversation"

	attrReplyToken = "replyToken"
	attrLineUserID = "lineUserId"
)

// Config holds the Flex routing settings
type Config struct {
	// StudioFlowSID receives onMessageAdded events of new conversations
	StudioFlowSID string
	// OutboundWebhookURL is where agent messages are posted back to the bridge
	OutboundWebhookURL string
}

// Bridge moves messages between LINE and Twilio Conversations
type Bridge struct {
	config        Config
	line          line.Messenger
	conversations conversations.API
	logger        logging.Logger
}

// New creates a Bridge
func New(config Config, messenger line.Messenger, convs conversations.API, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Bridge{
		config:        config,
		line:          messenger,
		conversations: convs,
		logger:        logger,
	}
}

// Identity is the Conversations participant identity of a LINE user
func Identity(userID string) string {
	return identityPrefix + userID
}

// HandleLineEvents forwards every user message event. Other events are
// skipped. The first failure aborts the batch.
func (b *Bridge) HandleLineEvents(ctx context.Context, events []line.Event) error {
	for _, event := range events {
		if !event.IsUserMessage() {
			b.logger.Debug("Ignoring LINE event",
				logging.Field{Key: "type", Value: event.Type},
				logging.Field{Key: "source", Value: event.Source.Type},
			)
			continue
		}
		if err := b.forwardInbound(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) forwardInbound(ctx context.Context, event line.Event) error {
	userID := event.Source.UserID
	identity := Identity(userID)
	body := event.Message.Body()
	logger := b.logger.WithContext(ctx).WithFields(logging.Field{Key: "identity", Value: identity})

	existing, err := b.conversations.ListParticipantConversations(ctx, identity)
	if err != nil {
		return fmt.Errorf("list conversations for %s: %w", identity, err)
	}

	for _, conv := range existing {
		if !conv.Open() {
			continue
		}
		if _, err := b.conversations.CreateMessage(ctx, conv.ConversationSID, identity, body); err != nil {
			return fmt.Errorf("post message to %s: %w", conv.ConversationSID, err)
		}
		attrs := conversations.ParseAttributes(conv.ConversationAttributes).Merge(conversations.Attributes{
			attrReplyToken: event.ReplyToken,
			attrLineUserID: userID,
		})
		if _, err := b.conversations.UpdateAttributes(ctx, conv.ConversationSID, attrs); err != nil {
			return fmt.Errorf("update reply token of %s: %w", conv.ConversationSID, err)
		}
		logger.Info("Forwarded LINE message to existing conversation",
			logging.Field{Key: "conversation_sid", Value: conv.ConversationSID},
		)
		return nil
	}

	sid, err := b.openConversation(ctx, event)
	if err != nil {
		return err
	}
	if _, err := b.conversations.CreateMessage(ctx, sid, identity, body); err != nil {
		return fmt.Errorf("post message to %s: %w", sid, err)
	}
	logger.Info("Forwarded LINE message to new conversation", logging.Field{Key: "conversation_sid", Value: sid})
	return nil
}

// openConversation creates a conversation for the sender, joins them and
// wires the Studio flow and the outbound webhook
func (b *Bridge) openConversation(ctx context.Context, event line.Event) (string, error) {
	userID := event.Source.UserID

	friendlyName := defaultFriendlyName
	profile, err := b.line.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get LINE profile: %w", err)
	}
	if profile.DisplayName != "" {
		friendlyName = "LINE: " + profile.DisplayName
	}

	conv, err := b.conversations.CreateConversation(ctx, friendlyName, conversations.Attributes{
		attrReplyToken: event.ReplyToken,
		attrLineUserID: userID,
	})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if _, err := b.conversations.AddParticipant(ctx, conv.SID, Identity(userID)); err != nil {
		return "", fmt.Errorf("add participant to %s: %w", conv.SID, err)
	}
	if _, err := b.conversations.AddStudioWebhook(ctx, conv.SID, b.config.StudioFlowSID); err != nil {
		return "", fmt.Errorf("add studio webhook to %s: %w", conv.SID, err)
	}
	if _, err := b.conversations.AddWebhook(ctx, conv.SID, b.config.OutboundWebhookURL); err != nil {
		return "", fmt.Errorf("add outbound webhook to %s: %w", conv.SID, err)
	}
	return conv.SID, nil
}

// OutboundMessage is an onMessageAdded callback from Conversations
type OutboundMessage struct {
	EventType       string `form:"EventType"`
	Source          string `form:"Source"`
	ConversationSID string `form:"ConversationSid" validate:"required"`
	Author          string `form:"Author"`
	Body            string `form:"Body"`
}

// Relevant reports whether the message was written by an agent and must be
// delivered to LINE
func (m OutboundMessage) Relevant() bool {
	return m.EventType == conversations.EventMessageAdded && m.Source != conversations.SourceAPI
}

// HandleOutbound delivers an agent message to the LINE user. The stored reply
// token is tried first; a rejected token falls back to a push message.
func (b *Bridge) HandleOutbound(ctx context.Context, msg OutboundMessage) error {
	if !msg.Relevant() {
		b.logger.Debug("Ignoring conversation event",
			logging.Field{Key: "event_type", Value: msg.EventType},
			logging.Field{Key: "source", Value: msg.Source},
		)
		return nil
	}
	if err := validation.Struct(msg); err != nil {
		return err
	}

	conv, err := b.conversations.FetchConversation(ctx, msg.ConversationSID)
	if err != nil {
		return fmt.Errorf("fetch conversation %s: %w", msg.ConversationSID, err)
	}
	attrs := conv.Attributes()
	replyToken := attrs.String(attrReplyToken)
	userID := attrs.String(attrLineUserID)
	logger := b.logger.WithContext(ctx).WithFields(logging.Field{Key: "conversation_sid", Value: msg.ConversationSID})

	text := line.NewTextMessage(msg.Body)

	if replyToken != "" {
		err := b.line.Reply(ctx, replyToken, text)
		if err == nil {
			logger.Info("Replied to LINE user")
			return nil
		}
		if line.StatusCode(err) != http.StatusBadRequest || userID == "" {
			return fmt.Errorf("reply to LINE user: %w", err)
		}
		logger.Warn("Reply token rejected, falling back to push", logging.Field{Key: "error", Value: err.Error()})
	}

	if userID == "" {
		return errors.ValidationError("conversation " + msg.ConversationSID + " has neither a reply token nor a LINE user id")
	}
	if err := b.line.Push(ctx, userID, text); err != nil {
		return fmt.Errorf("push to LINE user: %w", err)
	}
	logger.Info("Pushed message to LINE user")
	return nil
}
