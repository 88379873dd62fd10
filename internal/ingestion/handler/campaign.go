package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

type CampaignService interface {
	StartCampaign(ctx context.Context, payload model.CampaignCommandPayload) error
	CancelCampaign(ctx context.Context, payload model.CampaignCommandPayload) error
	ScheduleCampaign(ctx context.Context, payload model.CampaignCommandPayload) error
}

// CampaignHandler processes campaign commands
type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// HandleEvent processes campaign commands
func (h *CampaignHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	ctx = tenant.WithRequestID(ctx, uuid.NewString())
	logger.FromContext(ctx).Info("Processing campaign command", zap.String("type", string(eventType)))

	payload, err := decode[model.CampaignCommandPayload](ctx, rawEvent, "campaign command")
	if err != nil {
		return err
	}
	switch eventType {
	case model.V1CampaignStart:
		return h.service.StartCampaign(ctx, payload)
	case model.V1CampaignCancel:
		return h.service.CancelCampaign(ctx, payload)
	case model.V1CampaignSchedule:
		return h.service.ScheduleCampaign(ctx, payload)
	default:
		return unsupported(ctx, eventType, "campaign")
	}
}
