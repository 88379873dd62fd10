package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// MockConversationService is a mock for the ConversationService interface
type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockConversationService) UpdateMessageStatus(ctx context.Context, payload model.MessageStatusPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockConversationService) CloseConversation(ctx context.Context, payload model.CloseConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockConversationService) TransferConversation(ctx context.Context, payload model.TransferConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockConversationService) ReopenConversation(ctx context.Context, payload model.ReopenConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockConversationService) UnassignConversation(ctx context.Context, payload model.UnassignConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// MockSessionService is a mock for the SessionService interface
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) ConnectAgent(ctx context.Context, payload model.SessionConnectPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSessionService) DisconnectAgent(ctx context.Context, payload model.SessionDisconnectPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSessionService) JoinConversation(ctx context.Context, payload model.SessionConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSessionService) SendAgentMessage(ctx context.Context, payload model.SessionMessagePayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSessionService) TakeConversation(ctx context.Context, payload model.SessionConversationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockSessionService) RelayTyping(ctx context.Context, payload model.SessionTypingPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// MockCampaignService is a mock for the CampaignService interface
type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) StartCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockCampaignService) CancelCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockCampaignService) ScheduleCampaign(ctx context.Context, payload model.CampaignCommandPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
