package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion/handler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

// Processor wires the JetStream consumer, the event router and the handlers.
type Processor struct {
	service             *EventService
	jsClient            jetstream.ClientInterface
	consumer            ingestion.ConsumerInterface
	eventRouter         ingestion.RouterInterface
	conversationHandler handler.EventHandlerInterface
	sessionHandler      handler.EventHandlerInterface
	campaignHandler     handler.EventHandlerInterface
}

// NewProcessor creates a processor for one company. The consumer and queue
// group names get the company id appended so each tenant has its own
// durable consumer.
func NewProcessor(service *EventService, jsClient jetstream.ClientInterface, cfg *config.Config, companyID string) *Processor {
	router := ingestion.NewRouter()

	inboundCfg := cfg.NATS.Inbound
	inboundCfg.Consumer = inboundCfg.Consumer + "_" + companyID
	inboundCfg.QueueGroup = inboundCfg.QueueGroup + "_" + companyID

	return &Processor{
		service:             service,
		jsClient:            jsClient,
		consumer:            ingestion.NewConsumer(jsClient, router, inboundCfg, companyID, cfg.NATS.DLQSubject),
		eventRouter:         router,
		conversationHandler: handler.NewConversationHandler(service),
		sessionHandler:      handler.NewSessionHandler(service),
		campaignHandler:     handler.NewCampaignHandler(service),
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup registers the handlers and declares the stream and consumer.
func (p *Processor) Setup() error {
	for _, eventType := range []model.EventType{
		model.V1MessageInbound,
		model.V1MessageStatus,
		model.V1ConversationClose,
		model.V1ConversationTransfer,
		model.V1ConversationReopen,
		model.V1ConversationUnassign,
	} {
		p.eventRouter.Register(eventType, p.conversationHandler.HandleEvent)
	}
	for _, eventType := range []model.EventType{
		model.V1SessionConnect,
		model.V1SessionDisconnect,
		model.V1SessionJoin,
		model.V1SessionMessage,
		model.V1SessionTake,
		model.V1SessionTyping,
	} {
		p.eventRouter.Register(eventType, p.sessionHandler.HandleEvent)
	}
	for _, eventType := range []model.EventType{
		model.V1CampaignStart,
		model.V1CampaignCancel,
		model.V1CampaignSchedule,
	} {
		p.eventRouter.Register(eventType, p.campaignHandler.HandleEvent)
	}

	// Subjects outside the known set cannot succeed on redelivery.
	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.MessageSubject),
		)
		return apperrors.NewFatal(apperrors.ErrBadRequest, "unhandled event subject %s", metadata.MessageSubject)
	})

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start starts consuming events.
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	logger.Log.Info("Event processor started")
	return nil
}

// Stop drains the consumer.
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor...")
	p.consumer.Stop()
	logger.Log.Info("Event processor stopped")
}
