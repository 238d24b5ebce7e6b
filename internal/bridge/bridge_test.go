package bridge

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"line-flex-bridge/internal/common/errors"
	commonhttp "line-flex-bridge/internal/common/http"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/conversations"
	"line-flex-bridge/internal/line"
)

var testConfig = Config{
	StudioFlowSID:      "FW1",
	OutboundWebhookURL: "https://bridge.example.com/conversations/webhook",
}

func newTestBridge() (*Bridge, *MockMessenger, *MockConversations) {
	messenger := &MockMessenger{}
	convs := &MockConversations{}
	return New(testConfig, messenger, convs, logging.NewNopLogger()), messenger, convs
}

func textEvent(userID, replyToken, text string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: replyToken,
		Source:     line.EventSource{Type: line.SourceTypeUser, UserID: userID},
		Message:    &line.EventMessage{ID: "m1", Type: line.MessageTypeText, Text: text},
	}
}

func statusErr(code int) error {
	return errors.UpstreamError("call failed", &commonhttp.StatusError{Method: "POST", URL: "https://api.line.me", StatusCode: code})
}

func TestHandleLineEvents_NewConversation(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("ListParticipantConversations", ctx, "line:U1").Return([]conversations.ParticipantConversation{
		{ConversationSID: "CHold", ConversationState: conversations.StateClosed},
	}, nil)
	messenger.On("GetProfile", ctx, "U1").Return(&line.Profile{UserID: "U1", DisplayName: "Taro"}, nil)
	convs.On("CreateConversation", ctx, "LINE: Taro", conversations.Attributes{"replyToken": "rt1", "lineUserId": "U1"}).
		Return(&conversations.Conversation{SID: "CH1"}, nil)
	convs.On("AddParticipant", ctx, "CH1", "line:U1").Return(&conversations.Participant{SID: "MB1"}, nil)
	convs.On("AddStudioWebhook", ctx, "CH1", "FW1").Return(&conversations.Webhook{SID: "WH1"}, nil)
	convs.On("AddWebhook", ctx, "CH1", testConfig.OutboundWebhookURL).Return(&conversations.Webhook{SID: "WH2"}, nil)
	convs.On("CreateMessage", ctx, "CH1", "line:U1", "hello").Return(&conversations.Message{SID: "IM1"}, nil)

	require.NoError(t, b.HandleLineEvents(ctx, []line.Event{textEvent("U1", "rt1", "hello")}))

	messenger.AssertExpectations(t)
	convs.AssertExpectations(t)
}

func TestHandleLineEvents_ExistingConversation(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("ListParticipantConversations", ctx, "line:U1").Return([]conversations.ParticipantConversation{
		{ConversationSID: "CH7", ConversationState: conversations.StateActive, ConversationAttributes: `{"replyToken":"old","queue":"vip"}`},
	}, nil)
	convs.On("CreateMessage", ctx, "CH7", "line:U1", "[image message]").Return(&conversations.Message{SID: "IM2"}, nil)
	convs.On("UpdateAttributes", ctx, "CH7", conversations.Attributes{"replyToken": "rt2", "lineUserId": "U1", "queue": "vip"}).
		Return(&conversations.Conversation{SID: "CH7"}, nil)

	event := textEvent("U1", "rt2", "")
	event.Message.Type = "image"
	require.NoError(t, b.HandleLineEvents(ctx, []line.Event{event}))

	convs.AssertExpectations(t)
	messenger.AssertNotCalled(t, "GetProfile", mock.Anything, mock.Anything)
	convs.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleLineEvents_SkipsNonMessageEvents(t *testing.T) {
	b, messenger, convs := newTestBridge()

	err := b.HandleLineEvents(context.Background(), []line.Event{
		{Type: "follow", Source: line.EventSource{Type: line.SourceTypeUser, UserID: "U1"}},
		{Type: line.EventTypeMessage, Source: line.EventSource{Type: "group", GroupID: "G1"}, Message: &line.EventMessage{Type: "text"}},
	})
	require.NoError(t, err)
	messenger.AssertExpectations(t)
	convs.AssertExpectations(t)
}

func TestHandleLineEvents_ProfileWithoutDisplayName(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("ListParticipantConversations", ctx, "line:U2").Return([]conversations.ParticipantConversation{}, nil)
	messenger.On("GetProfile", ctx, "U2").Return(&line.Profile{UserID: "U2"}, nil)
	convs.On("CreateConversation", ctx, "LINE Conversation", conversations.Attributes{"replyToken": "rt9", "lineUserId": "U2"}).
		Return(&conversations.Conversation{SID: "CH2"}, nil)
	convs.On("AddParticipant", ctx, "CH2", "line:U2").Return(&conversations.Participant{SID: "MB2"}, nil)
	convs.On("AddStudioWebhook", ctx, "CH2", "FW1").Return(&conversations.Webhook{SID: "WH3"}, nil)
	convs.On("AddWebhook", ctx, "CH2", testConfig.OutboundWebhookURL).Return(&conversations.Webhook{SID: "WH4"}, nil)
	convs.On("CreateMessage", ctx, "CH2", "line:U2", "yo").Return(&conversations.Message{SID: "IM3"}, nil)

	require.NoError(t, b.HandleLineEvents(ctx, []line.Event{textEvent("U2", "rt9", "yo")}))
	convs.AssertExpectations(t)
}

func TestHandleLineEvents_ProfileFailureAborts(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("ListParticipantConversations", ctx, "line:U1").Return([]conversations.ParticipantConversation{}, nil)
	messenger.On("GetProfile", ctx, "U1").Return(nil, errors.CacheUnavailableError("token cache down", nil))

	err := b.HandleLineEvents(ctx, []line.Event{textEvent("U1", "rt", "hi")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCacheUnavailable))
	convs.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOutbound_Reply(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("FetchConversation", ctx, "CH1").Return(&conversations.Conversation{SID: "CH1", RawAttributes: `{"replyToken":"rt1","lineUserId":"U1"}`}, nil)
	messenger.On("Reply", ctx, "rt1", []line.TextMessage{line.NewTextMessage("agent says hi")}).Return(nil)

	err := b.HandleOutbound(ctx, OutboundMessage{EventType: "onMessageAdded", Source: "SDK", ConversationSID: "CH1", Body: "agent says hi"})
	require.NoError(t, err)
	messenger.AssertExpectations(t)
	messenger.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOutbound_PushFallback(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()
	text := []line.TextMessage{line.NewTextMessage("late answer")}

	convs.On("FetchConversation", ctx, "CH1").Return(&conversations.Conversation{SID: "CH1", RawAttributes: `{"replyToken":"used","lineUserId":"U1"}`}, nil)
	messenger.On("Reply", ctx, "used", text).Return(statusErr(http.StatusBadRequest))
	messenger.On("Push", ctx, "U1", text).Return(nil)

	err := b.HandleOutbound(ctx, OutboundMessage{EventType: "onMessageAdded", Source: "SDK", ConversationSID: "CH1", Body: "late answer"})
	require.NoError(t, err)
	messenger.AssertExpectations(t)
}

func TestHandleOutbound_ReplyServerErrorDoesNotPush(t *testing.T) {
	b, messenger, convs := newTestBridge()
	ctx := context.Background()

	convs.On("FetchConversation", ctx, "CH1").Return(&conversations.Conversation{SID: "CH1", RawAttributes: `{"replyToken":"rt","lineUserId":"U1"}`}, nil)
	messenger.On("Reply", ctx, "rt", mock.Anything).Return(statusErr(http.StatusInternalServerError))

	err := b.HandleOutbound(ctx, OutboundMessage{EventType: "onMessageAdded", ConversationSID: "CH1", Body: "x"})
	require.Error(t, err)
	messenger.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOutbound_NoRecipient(t *testing.T) {
	b, _, convs := newTestBridge()
	ctx := context.Background()

	convs.On("FetchConversation", ctx, "CH1").Return(&conversations.Conversation{SID: "CH1", RawAttributes: `{}`}, nil)

	err := b.HandleOutbound(ctx, OutboundMessage{EventType: "onMessageAdded", ConversationSID: "CH1", Body: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestHandleOutbound_Ignored(t *testing.T) {
	b, messenger, convs := newTestBridge()

	tests := []OutboundMessage{
		{EventType: "onMessageAdded", Source: "API", ConversationSID: "CH1"},
		{EventType: "onConversationUpdated", Source: "SDK", ConversationSID: "CH1"},
	}
	for _, msg := range tests {
		assert.NoError(t, b.HandleOutbound(context.Background(), msg))
	}
	convs.AssertNotCalled(t, "FetchConversation", mock.Anything, mock.Anything)
	messenger.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOutbound_MissingConversation(t *testing.T) {
	b, _, convs := newTestBridge()

	err := b.HandleOutbound(context.Background(), OutboundMessage{EventType: "onMessageAdded", Source: "SDK", Body: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "ConversationSid is required")
	convs.AssertNotCalled(t, "FetchConversation", mock.Anything, mock.Anything)
}
