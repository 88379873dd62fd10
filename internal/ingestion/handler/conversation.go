package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// ConversationService defines the customer-side operations: inbound
// messages, receipts and conversation lifecycle commands.
type ConversationService interface {
	ProcessInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error
	UpdateMessageStatus(ctx context.Context, payload model.MessageStatusPayload) error
	CloseConversation(ctx context.Context, payload model.CloseConversationPayload) error
	TransferConversation(ctx context.Context, payload model.TransferConversationPayload) error
	ReopenConversation(ctx context.Context, payload model.ReopenConversationPayload) error
	UnassignConversation(ctx context.Context, payload model.UnassignConversationPayload) error
}

// ConversationHandler processes message and conversation events
type ConversationHandler struct {
	service ConversationService
}

func NewConversationHandler(service ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// HandleEvent processes message and conversation events
func (h *ConversationHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	log := logger.FromContext(ctx)
	log.Info("Processing conversation event", zap.String("type", string(eventType)))

	switch eventType {
	case model.V1MessageInbound:
		payload, err := decode[model.InboundMessagePayload](ctx, rawEvent, "inbound message")
		if err != nil {
			return err
		}
		return h.service.ProcessInboundMessage(ctx, payload)
	case model.V1MessageStatus:
		payload, err := decode[model.MessageStatusPayload](ctx, rawEvent, "message status")
		if err != nil {
			return err
		}
		return h.service.UpdateMessageStatus(ctx, payload)
	case model.V1ConversationClose:
		payload, err := decode[model.CloseConversationPayload](ctx, rawEvent, "conversation close")
		if err != nil {
			return err
		}
		return h.service.CloseConversation(ctx, payload)
	case model.V1ConversationTransfer:
		payload, err := decode[model.TransferConversationPayload](ctx, rawEvent, "conversation transfer")
		if err != nil {
			return err
		}
		return h.service.TransferConversation(ctx, payload)
	case model.V1ConversationReopen:
		payload, err := decode[model.ReopenConversationPayload](ctx, rawEvent, "conversation reopen")
		if err != nil {
			return err
		}
		return h.service.ReopenConversation(ctx, payload)
	case model.V1ConversationUnassign:
		payload, err := decode[model.UnassignConversationPayload](ctx, rawEvent, "conversation unassign")
		if err != nil {
			return err
		}
		return h.service.UnassignConversation(ctx, payload)
	default:
		return unsupported(ctx, eventType, "conversation")
	}
}
