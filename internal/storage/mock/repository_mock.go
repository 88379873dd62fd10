package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// --- ContactRepo Mock ---

type ContactRepoMock struct {
	mock.Mock
}

func (m *ContactRepoMock) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindContactByIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.Contact, error) {
	args := m.Called(ctx, channel, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindContactIdentity(ctx context.Context, contactID string, channel model.Channel) (*model.ContactIdentity, error) {
	args := m.Called(ctx, contactID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactIdentity), args.Error(1)
}

func (m *ContactRepoMock) CreateContact(ctx context.Context, contact *model.Contact, identity *model.ContactIdentity) error {
	args := m.Called(ctx, contact, identity)
	return args.Error(0)
}

func (m *ContactRepoMock) MergeContactIdentity(ctx context.Context, contactID string, identity *model.ContactIdentity, hints model.ContactHints, at time.Time) (*model.Contact, error) {
	args := m.Called(ctx, contactID, identity, hints, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// --- ConversationRepo Mock ---

type ConversationRepoMock struct {
	mock.Mock
}

func (m *ConversationRepoMock) conversationResult(args mock.Arguments) (*model.Conversation, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, id))
}

func (m *ConversationRepoMock) FindOrCreateActiveConversation(ctx context.Context, contactID string, channel model.Channel, initial model.ConversationStatus) (*model.Conversation, bool, error) {
	args := m.Called(ctx, contactID, channel, initial)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Conversation), args.Bool(1), args.Error(2)
}

func (m *ConversationRepoMock) GetActiveAssignment(ctx context.Context, conversationID string) (*model.ConversationAgent, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationAgent), args.Error(1)
}

func (m *ConversationRepoMock) AssignAgent(ctx context.Context, conversationID, agentID string, reassign bool) (*model.ConversationAgent, error) {
	args := m.Called(ctx, conversationID, agentID, reassign)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationAgent), args.Error(1)
}

func (m *ConversationRepoMock) UnassignAgent(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, conversationID, agentID))
}

func (m *ConversationRepoMock) CloseConversation(ctx context.Context, conversationID string, rating *int) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, conversationID, rating))
}

func (m *ConversationRepoMock) TransferConversation(ctx context.Context, conversationID, departmentID string) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, conversationID, departmentID))
}

func (m *ConversationRepoMock) ReopenConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, conversationID))
}

func (m *ConversationRepoMock) MarkConversationPending(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return m.conversationResult(m.Called(ctx, conversationID))
}

// --- UserRepo Mock ---

type UserRepoMock struct {
	mock.Mock
}

func (m *UserRepoMock) GetUser(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *UserRepoMock) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *UserRepoMock) GetAgentLoads(ctx context.Context, agentIDs []string) (map[string]int64, error) {
	args := m.Called(ctx, agentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// --- MessageRepo Mock ---

type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) SaveMessage(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepoMock) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MessageRepoMock) LatestInboundMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) UpdateMessageStatus(ctx context.Context, messageID string, status model.DeliveryStatus) (*model.Message, error) {
	args := m.Called(ctx, messageID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// --- ChatbotRepo Mock ---

type ChatbotRepoMock struct {
	mock.Mock
}

func (m *ChatbotRepoMock) FindEnabledChatbot(ctx context.Context) (*model.Chatbot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chatbot), args.Error(1)
}

// --- ChannelAccountRepo Mock ---

type ChannelAccountRepoMock struct {
	mock.Mock
}

func (m *ChannelAccountRepoMock) ListConnectedAccounts(ctx context.Context, channel model.Channel) ([]model.ChannelAccount, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChannelAccount), args.Error(1)
}

// --- CampaignRepo Mock ---

type CampaignRepoMock struct {
	mock.Mock
}

func (m *CampaignRepoMock) campaignResult(args mock.Arguments) (*model.Campaign, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return m.campaignResult(m.Called(ctx, id))
}

func (m *CampaignRepoMock) TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus, at time.Time) (*model.Campaign, error) {
	return m.campaignResult(m.Called(ctx, id, to, at))
}

func (m *CampaignRepoMock) ScheduleCampaign(ctx context.Context, id string, at time.Time) (*model.Campaign, error) {
	return m.campaignResult(m.Called(ctx, id, at))
}

func (m *CampaignRepoMock) SaveCampaignProgress(ctx context.Context, id string, processed int, results model.CampaignResults) error {
	args := m.Called(ctx, id, processed, results)
	return args.Error(0)
}

func (m *CampaignRepoMock) ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) ListCampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

// --- ExhaustedEventRepo Mock ---

type ExhaustedEventRepoMock struct {
	mock.Mock
}

func (m *ExhaustedEventRepoMock) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
