package bridge

import (
	"context"

	"github.com/stretchr/testify/mock"

	"line-flex-bridge/internal/conversations"
	"line-flex-bridge/internal/line"
)

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*line.Profile), args.Error(1)
}

func (m *MockMessenger) Reply(ctx context.Context, replyToken string, messages ...line.TextMessage) error {
	args := m.Called(ctx, replyToken, messages)
	return args.Error(0)
}

func (m *MockMessenger) Push(ctx context.Context, to string, messages ...line.TextMessage) error {
	args := m.Called(ctx, to, messages)
	return args.Error(0)
}

type MockConversations struct {
	mock.Mock
}

func (m *MockConversations) ListParticipantConversations(ctx context.Context, identity string) ([]conversations.ParticipantConversation, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]conversations.ParticipantConversation), args.Error(1)
}

func (m *MockConversations) CreateConversation(ctx context.Context, friendlyName string, attrs conversations.Attributes) (*conversations.Conversation, error) {
	args := m.Called(ctx, friendlyName, attrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Conversation), args.Error(1)
}

func (m *MockConversations) FetchConversation(ctx context.Context, conversationSID string) (*conversations.Conversation, error) {
	args := m.Called(ctx, conversationSID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Conversation), args.Error(1)
}

func (m *MockConversations) UpdateAttributes(ctx context.Context, conversationSID string, attrs conversations.Attributes) (*conversations.Conversation, error) {
	args := m.Called(ctx, conversationSID, attrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Conversation), args.Error(1)
}

func (m *MockConversations) AddParticipant(ctx context.Context, conversationSID, identity string) (*conversations.Participant, error) {
	args := m.Called(ctx, conversationSID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Participant), args.Error(1)
}

func (m *MockConversations) AddStudioWebhook(ctx context.Context, conversationSID, flowSID string) (*conversations.Webhook, error) {
	args := m.Called(ctx, conversationSID, flowSID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Webhook), args.Error(1)
}

func (m *MockConversations) AddWebhook(ctx context.Context, conversationSID, targetURL string) (*conversations.Webhook, error) {
	args := m.Called(ctx, conversationSID, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Webhook), args.Error(1)
}

func (m *MockConversations) CreateMessage(ctx context.Context, conversationSID, author, body string) (*conversations.Message, error) {
	args := m.Called(ctx, conversationSID, author, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conversations.Message), args.Error(1)
}
