package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

func (s *EventService) CloseConversation(ctx context.Context, payload model.CloseConversationPayload) error {
	const op = "close conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.conversations.Close(ctx, payload.ConversationID, payload.Rating)
	return handleServiceError(ctx, err, op, zap.String("conversation_id", payload.ConversationID))
}

// TransferConversation moves a conversation to another department queue.
func (s *EventService) TransferConversation(ctx context.Context, payload model.TransferConversationPayload) error {
	const op = "transfer conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.conversations.Transfer(ctx, payload.ConversationID, payload.DepartmentID)
	return handleServiceError(ctx, err, op,
		zap.String("conversation_id", payload.ConversationID),
		zap.String("department_id", payload.DepartmentID),
	)
}

func (s *EventService) ReopenConversation(ctx context.Context, payload model.ReopenConversationPayload) error {
	const op = "reopen conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.conversations.Reopen(ctx, payload.ConversationID)
	return handleServiceError(ctx, err, op, zap.String("conversation_id", payload.ConversationID))
}

// UnassignConversation removes an agent; with nobody left the conversation
// goes back to the queue.
func (s *EventService) UnassignConversation(ctx context.Context, payload model.UnassignConversationPayload) error {
	const op = "unassign conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.conversations.Unassign(ctx, payload.ConversationID, payload.AgentID)
	return handleServiceError(ctx, err, op,
		zap.String("conversation_id", payload.ConversationID),
		zap.String("agent_id", payload.AgentID),
	)
}
