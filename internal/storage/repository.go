package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// Every operation reads the company from ctx and only touches that company's rows.
// Missing rows are reported as apperrors.ErrNotFound.

// ContactRepo stores contacts and their channel identities.
type ContactRepo interface {
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	FindContactByIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error)
	FindContactByEmail(ctx context.Context, email string) (*model.Contact, error)
	// FindContactIdentity returns the contact's address on channel, newest first.
	FindContactIdentity(ctx context.Context, contactID string, channel model.Channel) (*model.ContactIdentity, error)
	// CreateContact inserts the contact and its first identity atomically.
	// A concurrent insert of the same identity yields apperrors.ErrDuplicate.
	CreateContact(ctx context.Context, contact *model.Contact, identity *model.ContactIdentity) error
	// MergeContactIdentity attaches identity to an existing contact when it is
	// not known yet and refreshes last-contact data from hints.
	MergeContactIdentity(ctx context.Context, contactID string, identity *model.ContactIdentity, hints model.ContactHints, at time.Time) (*model.Contact, error)
}

// ConversationRepo owns conversation lifecycle writes. Methods that change
// assignments run in one transaction holding a row lock on the conversation.
type ConversationRepo interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindOrCreateActiveConversation(ctx context.Context, contactID string, channel model.Channel, initial model.ConversationStatus) (*model.Conversation, bool, error)
	GetActiveAssignment(ctx context.Context, conversationID string) (*model.ConversationAgent, error)
	AssignAgent(ctx context.Context, conversationID, agentID string, reassign bool) (*model.ConversationAgent, error)
	UnassignAgent(ctx context.Context, conversationID, agentID string) (*model.Conversation, error)
	CloseConversation(ctx context.Context, conversationID string, rating *int) (*model.Conversation, error)
	TransferConversation(ctx context.Context, conversationID, departmentID string) (*model.Conversation, error)
	ReopenConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	MarkConversationPending(ctx context.Context, conversationID string) (*model.Conversation, error)
}

// UserRepo reads agents and their load.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	// GetAgentLoads counts active assignments on OPEN/PENDING conversations
	// per agent. Agents with no assignment are absent from the map.
	GetAgentLoads(ctx context.Context, agentIDs []string) (map[string]int64, error)
}

type MessageRepo interface {
	// SaveMessage persists msg and bumps the conversation's last activity.
	SaveMessage(ctx context.Context, msg *model.Message) error
	// ListRecentMessages returns up to limit messages, oldest first.
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// LatestInboundMessage returns the contact's newest message, ErrNotFound when there is none.
	LatestInboundMessage(ctx context.Context, conversationID string) (*model.Message, error)
	// UpdateMessageStatus applies SENT->DELIVERED|FAILED by id or external id.
	UpdateMessageStatus(ctx context.Context, messageID string, status model.DeliveryStatus) (*model.Message, error)
}

type ChatbotRepo interface {
	FindEnabledChatbot(ctx context.Context) (*model.Chatbot, error)
}

type ChannelAccountRepo interface {
	ListConnectedAccounts(ctx context.Context, channel model.Channel) ([]model.ChannelAccount, error)
}

// CampaignRepo persists campaign state. Transitions are validated against
// model.CampaignStatus.CanTransitionTo under a row lock.
type CampaignRepo interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus, at time.Time) (*model.Campaign, error)
	ScheduleCampaign(ctx context.Context, id string, at time.Time) (*model.Campaign, error)
	SaveCampaignProgress(ctx context.Context, id string, processed int, results model.CampaignResults) error
	ListDueCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
}

type ExhaustedEventRepo interface {
	SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error
}
