package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
)

// ConnectAgent handles a console connection coming up.
func (s *EventService) ConnectAgent(ctx context.Context, payload model.SessionConnectPayload) error {
	const op = "connect agent"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	return handleServiceError(ctx, s.sessions.Connect(ctx, payload), op,
		zap.String("agent_id", payload.AgentID),
		zap.String("connection_id", payload.ConnectionID),
	)
}

// DisconnectAgent handles a console connection going away.
func (s *EventService) DisconnectAgent(ctx context.Context, payload model.SessionDisconnectPayload) error {
	const op = "disconnect agent"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	return handleServiceError(ctx, s.sessions.Disconnect(ctx, payload), op,
		zap.String("connection_id", payload.ConnectionID),
	)
}

func (s *EventService) JoinConversation(ctx context.Context, payload model.SessionConversationPayload) error {
	const op = "join conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.sessions.Join(ctx, payload)
	return handleServiceError(ctx, err, op,
		zap.String("agent_id", payload.AgentID),
		zap.String("conversation_id", payload.ConversationID),
	)
}

// SendAgentMessage delivers a reply typed by an agent.
func (s *EventService) SendAgentMessage(ctx context.Context, payload model.SessionMessagePayload) error {
	const op = "send agent message"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.sessions.SendMessage(ctx, payload)
	return handleServiceError(ctx, err, op,
		zap.String("agent_id", payload.AgentID),
		zap.String("conversation_id", payload.ConversationID),
	)
}

// TakeConversation lets an agent claim a conversation from whoever holds it.
func (s *EventService) TakeConversation(ctx context.Context, payload model.SessionConversationPayload) error {
	const op = "take conversation"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	_, err := s.sessions.Take(ctx, payload)
	return handleServiceError(ctx, err, op,
		zap.String("agent_id", payload.AgentID),
		zap.String("conversation_id", payload.ConversationID),
	)
}

func (s *EventService) RelayTyping(ctx context.Context, payload model.SessionTypingPayload) error {
	const op = "relay typing"
	if err := validatePayload(ctx, payload, op); err != nil {
		return err
	}
	return handleServiceError(ctx, s.sessions.Typing(ctx, payload), op)
}
