package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// PresenceTracker is the presence surface agent sessions drive.
type PresenceTracker interface {
	PresenceReader
	Connect(agentID, connID string) bool
	Disconnect(connID string) (agentID string, wentOffline bool, ok bool)
	ConnectionCount(agentID string) int
	OnlineAgents() []string
	Reset()
}

// SessionService handles events coming from agent consoles.
type SessionService struct {
	userRepo      storage.UserRepo
	convRepo      storage.ConversationRepo
	contactRepo   storage.ContactRepo
	messageRepo   storage.MessageRepo
	conversations *ConversationService
	presence      PresenceTracker
	transport     channel.Transport
	notifier      realtime.Notifier
	clock         scheduler.Clock
}

func NewSessionService(
	userRepo storage.UserRepo,
	convRepo storage.ConversationRepo,
	contactRepo storage.ContactRepo,
	messageRepo storage.MessageRepo,
	conversations *ConversationService,
	presence PresenceTracker,
	transport channel.Transport,
	notifier realtime.Notifier,
	clock scheduler.Clock,
) *SessionService {
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	return &SessionService{
		userRepo:      userRepo,
		convRepo:      convRepo,
		contactRepo:   contactRepo,
		messageRepo:   messageRepo,
		conversations: conversations,
		presence:      presence,
		transport:     transport,
		notifier:      notifier,
		clock:         clock,
	}
}

// Connect registers a console connection. The first connection of an agent
// announces it online.
func (s *SessionService) Connect(ctx context.Context, in model.SessionConnectPayload) error {
	user, err := s.userRepo.GetUser(ctx, in.AgentID)
	if err != nil {
		return unavailable(err, "load agent")
	}
	if !user.Active {
		return fmt.Errorf("%w: user %s is inactive", apperrors.ErrBadRequest, user.ID)
	}

	if s.presence.Connect(user.ID, in.ConnectionID) {
		realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
			Name: model.EventUserOnline,
			Data: model.PresenceNotice{UserID: user.ID},
		})
		logger.FromContext(ctx).Info("[session] agent online", zap.String("agent_id", user.ID))
	} else {
		logger.FromContext(ctx).Debug("[session] agent opened another connection",
			zap.String("agent_id", user.ID),
			zap.Int("connections", s.presence.ConnectionCount(user.ID)),
		)
	}
	observer.SetAgentsOnline(len(s.presence.OnlineAgents()))
	return nil
}

// DropSessions forgets every console connection. Called once the event
// stream is stopped, when no disconnect events will arrive anymore.
func (s *SessionService) DropSessions() {
	s.presence.Reset()
	observer.SetAgentsOnline(0)
}

// Disconnect drops a connection. Unknown connections are ignored.
func (s *SessionService) Disconnect(ctx context.Context, in model.SessionDisconnectPayload) error {
	agentID, wentOffline, ok := s.presence.Disconnect(in.ConnectionID)
	if !ok {
		logger.FromContext(ctx).Debug("[session] disconnect for unknown connection", zap.String("connection_id", in.ConnectionID))
		return nil
	}
	if wentOffline {
		realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
			Name: model.EventUserOffline,
			Data: model.PresenceNotice{UserID: agentID},
		})
		logger.FromContext(ctx).Info("[session] agent offline", zap.String("agent_id", agentID))
	}
	observer.SetAgentsOnline(len(s.presence.OnlineAgents()))
	return nil
}

// Join checks that the agent may watch the conversation. The realtime
// gateway subscribes the console to the conversation audience.
func (s *SessionService) Join(ctx context.Context, in model.SessionConversationPayload) (*model.Conversation, error) {
	if _, err := s.userRepo.GetUser(ctx, in.AgentID); err != nil {
		return nil, unavailable(err, "load agent")
	}
	conv, err := s.convRepo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, unavailable(err, "load conversation")
	}
	logger.FromContext(ctx).Debug("[session] agent joined conversation",
		zap.String("agent_id", in.AgentID),
		zap.String("conversation_id", conv.ID),
	)
	return conv, nil
}

// SendMessage delivers an agent reply on the channel the contact last wrote
// from. An agent replying to an unassigned conversation takes it.
func (s *SessionService) SendMessage(ctx context.Context, in model.SessionMessagePayload) (*model.Message, error) {
	user, err := s.userRepo.GetUser(ctx, in.AgentID)
	if err != nil {
		return nil, unavailable(err, "load agent")
	}
	if !user.Role.CountsAsOnlineStaff() {
		return nil, fmt.Errorf("%w: role %s cannot reply", apperrors.ErrBadRequest, user.Role)
	}
	conv, err := s.convRepo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, unavailable(err, "load conversation")
	}
	if !conv.Status.IsActive() {
		return nil, fmt.Errorf("%w: conversation %s is %s", apperrors.ErrInvariantViolation, conv.ID, conv.Status)
	}

	assignment, err := s.convRepo.GetActiveAssignment(ctx, conv.ID)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return nil, unavailable(err, "load assignment")
	}
	switch {
	case assignment == nil && user.Role.CanReceiveAssignments():
		if _, err := s.conversations.Assign(ctx, conv.ID, user.ID, false); err != nil {
			return nil, err
		}
	case assignment != nil && assignment.AgentID != user.ID && user.Role == model.RoleAgent:
		return nil, fmt.Errorf("%w: conversation %s belongs to %s", apperrors.ErrAlreadyAssigned, conv.ID, assignment.AgentID)
	}

	ch, err := s.replyChannel(ctx, conv)
	if err != nil {
		return nil, err
	}
	identity, err := s.contactRepo.FindContactIdentity(ctx, conv.ContactID, ch)
	if err != nil {
		return nil, unavailable(err, "load contact address")
	}

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	userID := user.ID
	msg := &model.Message{
		ID:             uuid.NewString(),
		CompanyID:      conv.CompanyID,
		ConversationID: conv.ID,
		Content:        in.Content,
		Type:           msgType,
		Direction:      model.DirectionOutbound,
		Status:         model.DeliverySent,
		Channel:        ch,
		MediaRef:       in.MediaRef,
		UserID:         &userID,
		SentAt:         s.clock.Now(),
	}
	res, sendErr := s.transport.Send(ctx, channel.SendRequest{
		CompanyID: conv.CompanyID,
		Channel:   ch,
		Recipient: identity.ExternalID,
		Content:   in.Content,
		MediaRef:  in.MediaRef,
	})
	if sendErr != nil {
		logger.FromContext(ctx).Warn("[session] agent reply not delivered",
			zap.String("conversation_id", conv.ID),
			zap.Error(sendErr),
		)
		msg.Status = model.DeliveryFailed
	} else {
		msg.ExternalID = res.ExternalID
	}
	if err := s.messageRepo.SaveMessage(ctx, msg); err != nil {
		return nil, unavailable(err, "save agent message")
	}

	realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
		Name:           model.EventMessageNew,
		Audience:       model.AudienceConversation,
		ConversationID: conv.ID,
		Data:           msg,
	})
	return msg, nil
}

// replyChannel is the channel of the latest inbound message. A conversation
// the contact never wrote in, such as a campaign one, uses the last channel added.
func (s *SessionService) replyChannel(ctx context.Context, conv *model.Conversation) (model.Channel, error) {
	last, err := s.messageRepo.LatestInboundMessage(ctx, conv.ID)
	switch {
	case err == nil && last.Channel != "":
		return last.Channel, nil
	case err != nil && !apperrors.IsNotFoundError(err):
		return "", unavailable(err, "load latest inbound message")
	}
	channels := conv.ChannelSet()
	if len(channels) == 0 {
		return "", fmt.Errorf("%w: conversation %s has no channel", apperrors.ErrInvariantViolation, conv.ID)
	}
	return channels[len(channels)-1], nil
}

// Take assigns the conversation to the agent, replacing any current assignee.
func (s *SessionService) Take(ctx context.Context, in model.SessionConversationPayload) (*model.ConversationAgent, error) {
	user, err := s.userRepo.GetUser(ctx, in.AgentID)
	if err != nil {
		return nil, unavailable(err, "load agent")
	}
	if !user.Role.CanReceiveAssignments() {
		return nil, fmt.Errorf("%w: role %s cannot take conversations", apperrors.ErrBadRequest, user.Role)
	}
	return s.conversations.Assign(ctx, in.ConversationID, user.ID, true)
}

// Typing relays a typing indicator to the conversation audience. A stale
// indicator is worthless, so a failed emit is not retried.
func (s *SessionService) Typing(ctx context.Context, in model.SessionTypingPayload) error {
	name := model.EventTypingStop
	if in.Typing {
		name = model.EventTypingStart
	}
	realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
		Name:           name,
		Audience:       model.AudienceConversation,
		ConversationID: in.ConversationID,
		UserID:         in.AgentID,
		Data:           model.TypingNotice{ConversationID: in.ConversationID, UserID: in.AgentID},
	})
	return nil
}
