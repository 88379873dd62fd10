package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// ConversationService drives the OPEN/PENDING/CLOSED lifecycle. The store
// enforces transitions under a row lock; this layer announces the result.
type ConversationService struct {
	convRepo storage.ConversationRepo
	notifier realtime.Notifier
}

func NewConversationService(convRepo storage.ConversationRepo, notifier realtime.Notifier) *ConversationService {
	return &ConversationService{convRepo: convRepo, notifier: notifier}
}

// FindOrCreateActive returns the contact's OPEN/PENDING conversation, adding
// channel to its channel set, or creates one. Outbound-initiated
// conversations pass openOnCreate and start OPEN, inbound ones start PENDING.
func (s *ConversationService) FindOrCreateActive(ctx context.Context, contactID string, channel model.Channel, openOnCreate bool) (*model.Conversation, bool, error) {
	if contactID == "" {
		return nil, false, fmt.Errorf("%w: contact id is required", apperrors.ErrValidation)
	}
	initial := model.ConversationPending
	if openOnCreate {
		initial = model.ConversationOpen
	}
	conv, created, err := s.convRepo.FindOrCreateActiveConversation(ctx, contactID, channel, initial)
	if err != nil {
		return nil, false, unavailable(err, "find or create conversation")
	}
	if created {
		logger.FromContext(ctx).Info("[conversation] created",
			zap.String("conversation_id", conv.ID),
			zap.String("contact_id", contactID),
			zap.String("status", string(conv.Status)),
		)
	}
	return conv, created, nil
}

// Assign makes agentID the active assignee and opens the conversation.
// Without reassign a different active assignee yields ErrAlreadyAssigned.
func (s *ConversationService) Assign(ctx context.Context, conversationID, agentID string, reassign bool) (*model.ConversationAgent, error) {
	assignment, err := s.convRepo.AssignAgent(ctx, conversationID, agentID, reassign)
	if err != nil {
		return nil, unavailable(err, "assign agent")
	}

	notice := model.AssignmentNotice{ConversationID: conversationID, AgentID: agentID}
	realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
		Name:           model.EventConversationAssigned,
		Audience:       model.AudienceCompany,
		ConversationID: conversationID,
		Data:           notice,
	})
	realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
		Name:           model.EventConversationAssigned,
		Audience:       model.AudienceUser,
		ConversationID: conversationID,
		UserID:         agentID,
		Data:           notice,
	})
	logger.FromContext(ctx).Info("[conversation] assigned",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID),
	)
	return assignment, nil
}

// Unassign removes agentID's active assignment. The conversation falls back to PENDING.
func (s *ConversationService) Unassign(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	conv, err := s.convRepo.UnassignAgent(ctx, conversationID, agentID)
	if err != nil {
		return nil, unavailable(err, "unassign agent")
	}
	s.emitStatus(ctx, conv)
	return conv, nil
}

// Close ends the conversation, deactivating every assignment.
func (s *ConversationService) Close(ctx context.Context, conversationID string, rating *int) (*model.Conversation, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("%w: rating %d out of range 1..5", apperrors.ErrValidation, *rating)
	}
	conv, err := s.convRepo.CloseConversation(ctx, conversationID, rating)
	if err != nil {
		return nil, unavailable(err, "close conversation")
	}
	s.emitStatus(ctx, conv)
	return conv, nil
}

// Transfer hands the conversation to a department queue as PENDING.
func (s *ConversationService) Transfer(ctx context.Context, conversationID, departmentID string) (*model.Conversation, error) {
	if departmentID == "" {
		return nil, fmt.Errorf("%w: department id is required", apperrors.ErrValidation)
	}
	conv, err := s.convRepo.TransferConversation(ctx, conversationID, departmentID)
	if err != nil {
		return nil, unavailable(err, "transfer conversation")
	}
	s.emitStatus(ctx, conv)
	return conv, nil
}

// Reopen moves a CLOSED conversation back to PENDING. It fails when the
// contact already has another active conversation.
func (s *ConversationService) Reopen(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.convRepo.ReopenConversation(ctx, conversationID)
	if err != nil {
		return nil, unavailable(err, "reopen conversation")
	}
	s.emitStatus(ctx, conv)
	return conv, nil
}

// MarkPending parks an OPEN conversation in the queue. One that still has an
// active assignee comes back OPEN and nothing is announced.
func (s *ConversationService) MarkPending(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.convRepo.MarkConversationPending(ctx, conversationID)
	if err != nil {
		return nil, unavailable(err, "mark conversation pending")
	}
	if conv.Status == model.ConversationPending {
		s.emitStatus(ctx, conv)
	}
	return conv, nil
}

func (s *ConversationService) emitStatus(ctx context.Context, conv *model.Conversation) {
	name := model.EventConversationPending
	if conv.Status == model.ConversationClosed {
		name = model.EventConversationClosed
	}
	realtime.EmitBestEffort(ctx, s.notifier, realtime.Event{
		Name:           name,
		Audience:       model.AudienceCompany,
		ConversationID: conv.ID,
		Data:           conv,
	})
}
