package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// MetadataAccountID names the inbound metadata key carrying the receiving account.
const MetadataAccountID = "account_id"

// Router is the part of the routing engine the inbound pipeline calls.
type Router interface {
	Route(ctx context.Context, req RouteRequest) (RoutingOutcome, error)
}

// MessageProcessor runs the inbound pipeline: resolve the contact, attach the
// conversation, record the message, announce it and route it.
type MessageProcessor struct {
	resolver      *ContactResolver
	conversations *ConversationService
	messageRepo   storage.MessageRepo
	router        Router
	notifier      realtime.Notifier
}

func NewMessageProcessor(
	resolver *ContactResolver,
	conversations *ConversationService,
	messageRepo storage.MessageRepo,
	router Router,
	notifier realtime.Notifier,
) *MessageProcessor {
	return &MessageProcessor{
		resolver:      resolver,
		conversations: conversations,
		messageRepo:   messageRepo,
		router:        router,
		notifier:      notifier,
	}
}

// inboundMessageID derives a stable id from the channel's message id so a
// redelivered event maps onto the row already stored.
func inboundMessageID(companyID string, ch model.Channel, externalMessageID string) string {
	if externalMessageID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join([]string{companyID, string(ch), externalMessageID}, "/"))).String()
}

// ProcessInbound handles one normalized inbound channel message.
func (p *MessageProcessor) ProcessInbound(ctx context.Context, in model.InboundMessagePayload) (RoutingOutcome, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return RoutingOutcome{}, fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}
	log := logger.FromContext(ctx).With(zap.String("channel", string(in.Channel)))

	contact, err := p.resolver.ResolveContact(ctx, in.Channel, in.ExternalID, model.ContactHints{
		DisplayName: in.SenderName,
		AvatarURL:   in.AvatarURL,
	})
	if err != nil {
		return RoutingOutcome{}, err
	}
	conv, _, err := p.conversations.FindOrCreateActive(ctx, contact.ID, in.Channel, false)
	if err != nil {
		return RoutingOutcome{}, err
	}
	log = log.With(zap.String("conversation_id", conv.ID), zap.String("contact_id", contact.ID))
	ctx = logger.WithLogger(ctx, log)

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	sentAt := utils.Now()
	if in.Timestamp > 0 {
		sentAt = utils.UnixToTime(in.Timestamp)
	}
	msg := &model.Message{
		ID:             inboundMessageID(companyID, in.Channel, in.MessageID),
		CompanyID:      companyID,
		ConversationID: conv.ID,
		Content:        in.Content,
		Type:           msgType,
		Direction:      model.DirectionInbound,
		Status:         model.DeliveryDelivered,
		Channel:        in.Channel,
		ExternalID:     in.MessageID,
		MediaRef:       in.MediaRef,
		SentAt:         sentAt,
	}
	if err := p.messageRepo.SaveMessage(ctx, msg); err != nil {
		if apperrors.IsDuplicateError(err) {
			log.Info("[inbound] message already processed, skipping", zap.String("message_id", msg.ID))
			return RoutingOutcome{}, nil
		}
		return RoutingOutcome{}, unavailable(err, "save inbound message")
	}

	realtime.EmitBestEffort(ctx, p.notifier, realtime.Event{
		Name:           model.EventMessageNew,
		Audience:       model.AudienceConversation,
		ConversationID: conv.ID,
		Data:           msg,
	})

	outcome, err := p.router.Route(ctx, RouteRequest{
		Message:      msg,
		Conversation: conv,
		Contact:      contact,
		ReplyTo:      in.ExternalID,
		AccountID:    in.Metadata[MetadataAccountID],
	})
	if err != nil {
		return RoutingOutcome{}, err
	}
	return outcome, nil
}

// UpdateStatus applies a delivery receipt to an outbound message.
func (p *MessageProcessor) UpdateStatus(ctx context.Context, in model.MessageStatusPayload) (*model.Message, error) {
	msg, err := p.messageRepo.UpdateMessageStatus(ctx, in.MessageID, in.Status)
	if err != nil {
		return nil, unavailable(err, "update message status")
	}
	logger.FromContext(ctx).Debug("[inbound] delivery status applied",
		zap.String("message_id", msg.ID),
		zap.String("status", string(msg.Status)),
	)
	return msg, nil
}
