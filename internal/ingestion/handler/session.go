package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// SessionService defines the operations agent consoles drive.
type SessionService interface {
	ConnectAgent(ctx context.Context, payload model.SessionConnectPayload) error
	DisconnectAgent(ctx context.Context, payload model.SessionDisconnectPayload) error
	JoinConversation(ctx context.Context, payload model.SessionConversationPayload) error
	SendAgentMessage(ctx context.Context, payload model.SessionMessagePayload) error
	TakeConversation(ctx context.Context, payload model.SessionConversationPayload) error
	RelayTyping(ctx context.Context, payload model.SessionTypingPayload) error
}

// SessionHandler processes agent session events relayed by the realtime gateway.
type SessionHandler struct {
	service SessionService
}

func NewSessionHandler(service SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// HandleEvent processes session events
func (h *SessionHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	logger.FromContext(ctx).Debug("Processing session event", zap.String("type", string(eventType)))

	switch eventType {
	case model.V1SessionConnect:
		payload, err := decode[model.SessionConnectPayload](ctx, rawEvent, "session connect")
		if err != nil {
			return err
		}
		return h.service.ConnectAgent(ctx, payload)
	case model.V1SessionDisconnect:
		payload, err := decode[model.SessionDisconnectPayload](ctx, rawEvent, "session disconnect")
		if err != nil {
			return err
		}
		return h.service.DisconnectAgent(ctx, payload)
	case model.V1SessionJoin:
		payload, err := decode[model.SessionConversationPayload](ctx, rawEvent, "session join")
		if err != nil {
			return err
		}
		return h.service.JoinConversation(ctx, payload)
	case model.V1SessionMessage:
		payload, err := decode[model.SessionMessagePayload](ctx, rawEvent, "session message")
		if err != nil {
			return err
		}
		return h.service.SendAgentMessage(ctx, payload)
	case model.V1SessionTake:
		payload, err := decode[model.SessionConversationPayload](ctx, rawEvent, "session take")
		if err != nil {
			return err
		}
		return h.service.TakeConversation(ctx, payload)
	case model.V1SessionTyping:
		payload, err := decode[model.SessionTypingPayload](ctx, rawEvent, "session typing")
		if err != nil {
			return err
		}
		return h.service.RelayTyping(ctx, payload)
	default:
		return unsupported(ctx, eventType, "session")
	}
}
